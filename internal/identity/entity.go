package identity

// VendordataRequest is the body Nova's dynamic vendordata sends for a booting instance.
type VendordataRequest struct {
	InstanceID string         `json:"instance-id" validate:"required"`
	ProjectID  string         `json:"project-id" validate:"required"`
	ImageID    string         `json:"image-id" validate:"required"`
	Hostname   string         `json:"hostname" validate:"required"`
	Metadata   map[string]any `json:"metadata" validate:"required"`
}

type VendordataResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

const (
	ClaimInstanceID  = "instance-id"
	ClaimProjectID   = "project-id"
	ClaimImageID     = "image-id"
	ClaimHostname    = "hostname"
	ClaimMetadata    = "metadata"
	ClaimProjectName = "project-name"
	ClaimAssumeRole  = "assume-role"
)

// InstanceClaims lists the non-registered claims a token may carry.
func InstanceClaims() []string {
	return []string{ClaimInstanceID, ClaimProjectID, ClaimImageID, ClaimHostname, ClaimMetadata, ClaimProjectName, ClaimAssumeRole}
}

// Claims renders the request as token claims.
func (r VendordataRequest) Claims() map[string]any {
	claims := map[string]any{
		ClaimInstanceID: r.InstanceID,
		ClaimProjectID:  r.ProjectID,
		ClaimImageID:    r.ImageID,
		ClaimHostname:   r.Hostname,
		ClaimMetadata:   r.Metadata,
	}
	if role, ok := r.Metadata[ClaimAssumeRole]; ok {
		claims[ClaimAssumeRole] = role
	}
	return claims
}

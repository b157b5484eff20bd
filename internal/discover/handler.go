package discover

import (
	"net/http"
	"time"

	"github.com/sing3demons/instance-identity/internal/config"
	"github.com/sing3demons/instance-identity/pkg/jwks"
	"github.com/sing3demons/instance-identity/pkg/kp"
)

type KeySet interface {
	Algorithm() string
	PublicKeySet() []jwks.JWK
	LastRotation() time.Time
}

// ProviderMetadata is the OpenID discovery document.
type ProviderMetadata struct {
	Issuer                           string   `json:"issuer"`
	JwksURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

type DiscoverHandler struct {
	cfg    *config.AppConfig
	keys   KeySet
	claims []string
}

// NewDiscoverHandler advertises claims as claims_supported.
func NewDiscoverHandler(cfg *config.AppConfig, keys KeySet, claims []string) *DiscoverHandler {
	return &DiscoverHandler{cfg: cfg, keys: keys, claims: claims}
}

func (h *DiscoverHandler) Metadata() ProviderMetadata {
	return ProviderMetadata{
		Issuer:                           h.cfg.Oidc.Issuer,
		JwksURI:                          h.cfg.JwksURI(),
		ResponseTypesSupported:           []string{"id_token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{h.keys.Algorithm()},
		ScopesSupported:                  []string{"openid", "profile", "email"},
		ClaimsSupported:                  h.claims,
	}
}

func (h *DiscoverHandler) OIDCHandler(ctx *kp.Ctx) {
	ctx.L("discover")
	ctx.JSON(http.StatusOK, h.Metadata())
}

func (h *DiscoverHandler) JwksHandler(ctx *kp.Ctx) {
	// /.well-known/jwks.json
	ctx.L("get_jwks")
	ctx.Res.Header().Set("Cache-Control", "public, max-age=300")
	if at := h.keys.LastRotation(); !at.IsZero() {
		ctx.Res.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	}
	keys := h.keys.PublicKeySet()
	if keys == nil {
		keys = []jwks.JWK{}
	}
	ctx.JSON(http.StatusOK, jwks.JWKS{Keys: keys})
}

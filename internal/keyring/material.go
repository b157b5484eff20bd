package keyring

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sing3demons/instance-identity/pkg/jwks"
)

// keyMaterial is the private half of a signing key. Only rsaMaterial and
// ecMaterial implement it, and each owns its JWK projection.
type keyMaterial interface {
	jwk(kid, alg string) jwks.JWK
	signer() crypto.Signer
}

type rsaMaterial struct {
	key *rsa.PrivateKey
}

func (m rsaMaterial) jwk(kid, alg string) jwks.JWK {
	return jwks.RSAJWK(kid, alg, &m.key.PublicKey)
}

func (m rsaMaterial) signer() crypto.Signer { return m.key }

type ecMaterial struct {
	key *ecdsa.PrivateKey
}

func (m ecMaterial) jwk(kid, alg string) jwks.JWK {
	return jwks.ECJWK(kid, alg, &m.key.PublicKey)
}

func (m ecMaterial) signer() crypto.Signer { return m.key }

type keySpec struct {
	rsaBits int
	curve   elliptic.Curve
}

var keySpecs = map[string]keySpec{
	"RS256": {rsaBits: 2048},
	"RS384": {rsaBits: 3072},
	"RS512": {rsaBits: 4096},
	"ES256": {curve: elliptic.P256()},
	"ES384": {curve: elliptic.P384()},
	"ES512": {curve: elliptic.P521()},
}

// SupportedAlgorithms lists the JWS algorithms keys can be generated for, sorted.
func SupportedAlgorithms() []string {
	algs := make([]string, 0, len(keySpecs))
	for alg := range keySpecs {
		algs = append(algs, alg)
	}
	sort.Strings(algs)
	return algs
}

func specFor(alg string) (keySpec, error) {
	spec, ok := keySpecs[alg]
	if !ok {
		return keySpec{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedAlgorithm, alg, strings.Join(SupportedAlgorithms(), ", "))
	}
	return spec, nil
}

// SigningKeyPair is an immutable signing key. Values are safe to share between goroutines.
type SigningKeyPair struct {
	KID       string
	Algorithm string
	CreatedAt time.Time
	material  keyMaterial
}

// JWK is the public projection published in the JWKS.
func (p SigningKeyPair) JWK() jwks.JWK {
	if p.material == nil {
		return jwks.JWK{}
	}
	return p.material.jwk(p.KID, p.Algorithm)
}

// PrivateKey returns the signer for token signing. It is *rsa.PrivateKey or *ecdsa.PrivateKey.
func (p SigningKeyPair) PrivateKey() crypto.Signer {
	if p.material == nil {
		return nil
	}
	return p.material.signer()
}

func newSigningKeyPair(alg string, createdAt time.Time) (SigningKeyPair, error) {
	spec, err := specFor(alg)
	if err != nil {
		return SigningKeyPair{}, err
	}

	var (
		material keyMaterial
		pub      crypto.PublicKey
	)
	if spec.curve != nil {
		key, err := ecdsa.GenerateKey(spec.curve, rand.Reader)
		if err != nil {
			return SigningKeyPair{}, fmt.Errorf("generate %s key: %w", alg, err)
		}
		material, pub = ecMaterial{key: key}, &key.PublicKey
	} else {
		key, err := rsa.GenerateKey(rand.Reader, spec.rsaBits)
		if err != nil {
			return SigningKeyPair{}, fmt.Errorf("generate %s key: %w", alg, err)
		}
		material, pub = rsaMaterial{key: key}, &key.PublicKey
	}

	kid, err := newKID(alg, pub)
	if err != nil {
		return SigningKeyPair{}, err
	}
	return SigningKeyPair{KID: kid, Algorithm: alg, CreatedAt: createdAt, material: material}, nil
}

// newKID derives <alg>-<thumbprint>-<random>. The thumbprint is the first 8 bytes of
// the SHA-256 of the SPKI encoding; the random part keeps kids unique across restarts.
func newKID(alg string, pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return fmt.Sprintf("%s-%s-%s", alg, base64.RawURLEncoding.EncodeToString(sum[:8]), uuid.NewString()[:8]), nil
}

package jwks

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrKeyNotFound = errors.New("kid not found in key set")

// Keyfunc resolves the verification key for a token from the set by its kid header.
// It is meant for relying parties and tests; the issuer itself never verifies.
func (s JWKS) Keyfunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid in token header")
	}
	k, ok := s.Find(kid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	if alg, _ := t.Header["alg"].(string); alg != k.Alg {
		return nil, fmt.Errorf("alg mismatch: token %s, key %s", alg, k.Alg)
	}
	return k.PublicKey()
}

// Verify parses and validates tokenString against the set.
func (s JWKS) Verify(tokenString string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.Keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

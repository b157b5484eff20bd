package keyring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sing3demons/instance-identity/pkg/jwks"
)

// StateStore persists the public key history. Load returns (nil, nil) when nothing
// has been saved yet and ErrCorruptPersistedState when stored data cannot be used.
type StateStore interface {
	Load(ctx context.Context) ([]jwks.JWK, error)
	Save(ctx context.Context, keys []jwks.JWK) error
}

// decodeState parses a JSON array of JWKs and checks every entry describes a usable public key.
func decodeState(data []byte) ([]jwks.JWK, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorruptPersistedState)
	}
	var keys []jwks.JWK
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPersistedState, err)
	}
	if err := validateState(keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func validateState(keys []jwks.JWK) error {
	seen := make(map[string]struct{}, len(keys))
	for i, k := range keys {
		if k.Kid == "" {
			return fmt.Errorf("%w: entry %d has no kid", ErrCorruptPersistedState, i)
		}
		if _, dup := seen[k.Kid]; dup {
			return fmt.Errorf("%w: duplicate kid %s", ErrCorruptPersistedState, k.Kid)
		}
		seen[k.Kid] = struct{}{}
		if _, err := k.PublicKey(); err != nil {
			return fmt.Errorf("%w: kid %s: %v", ErrCorruptPersistedState, k.Kid, err)
		}
	}
	return nil
}

func encodeState(keys []jwks.JWK) ([]byte, error) {
	if keys == nil {
		keys = []jwks.JWK{}
	}
	return json.MarshalIndent(keys, "", "  ")
}

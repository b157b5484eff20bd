package keyring

import "errors"

var (
	ErrUnsupportedAlgorithm  = errors.New("unsupported signing algorithm")
	ErrCorruptPersistedState = errors.New("corrupt persisted jwks state")
	// ErrPersistenceFailure means a rotation took effect in memory but was not
	// durably recorded. A restart before the next successful write loses the newest key.
	ErrPersistenceFailure = errors.New("jwks state persistence failed")
	ErrNoActiveKey        = errors.New("no active signing key")
)

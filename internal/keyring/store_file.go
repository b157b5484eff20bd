package keyring

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sing3demons/instance-identity/pkg/jwks"
	"github.com/sing3demons/instance-identity/pkg/logAction"
	"github.com/sing3demons/instance-identity/pkg/logger"
	"github.com/sing3demons/instance-identity/pkg/mlog"
)

// FileStore keeps the key history in a JSON file replaced atomically on every save.
type FileStore struct {
	path string
	perm fs.FileMode
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, perm: 0o644}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) ([]jwks.JWK, error) {
	log := mlog.L(ctx)
	start := time.Now()
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: "file",
	}).Debug(logAction.DB_REQUEST(logAction.DB_READ, "read jwks state"), map[string]any{
		"path": s.path,
	})

	data, err := os.ReadFile(s.path)
	elapsedMs := time.Since(start).Milliseconds()
	if errors.Is(err, fs.ErrNotExist) {
		log.SetDependencyMetadata(logger.DependencyMetadata{
			Dependency:   "file",
			ResponseTime: elapsedMs,
		}).Debug(logAction.DB_RESPONSE(logAction.DB_READ, "read jwks state"), map[string]any{"data": nil})
		return nil, nil
	}
	if err != nil {
		log.SetDependencyMetadata(logger.DependencyMetadata{
			Dependency:   "file",
			ResponseTime: elapsedMs,
		}).Error(logAction.DB_RESPONSE(logAction.DB_READ, "read jwks state"), map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("read jwks state %s: %w", s.path, err)
	}

	keys, err := decodeState(data)
	result := map[string]any{"keys": len(keys)}
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   "file",
		ResponseTime: elapsedMs,
	}).Debug(logAction.DB_RESPONSE(logAction.DB_READ, "read jwks state"), result)
	return keys, err
}

func (s *FileStore) Save(ctx context.Context, keys []jwks.JWK) error {
	log := mlog.L(ctx)
	start := time.Now()
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency: "file",
	}).Debug(logAction.DB_REQUEST(logAction.DB_UPDATE, "write jwks state"), map[string]any{
		"path": s.path,
		"keys": len(keys),
	})

	data, err := encodeState(keys)
	if err == nil {
		err = atomicWriteFile(s.path, data, s.perm)
	}

	result := map[string]any{"data": "OK"}
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	log.SetDependencyMetadata(logger.DependencyMetadata{
		Dependency:   "file",
		ResponseTime: time.Since(start).Milliseconds(),
	}).Debug(logAction.DB_RESPONSE(logAction.DB_UPDATE, "write jwks state"), result)
	return err
}

// atomicWriteFile writes to a temp file in the target directory, fsyncs and closes it,
// then renames it over path. Readers see either the old or the new content.
func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

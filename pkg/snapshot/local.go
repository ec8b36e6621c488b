package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type localSink struct {
	dir string
}

// NewLocal writes snapshots into dir, creating it when needed.
func NewLocal(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return newWriter(&localSink{dir: dir}, "local"), nil
}

func (s *localSink) put(_ context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/cradlesense-backend/internal/logger"
)

// FileStore is the audio-storage collaborator. Upload mechanics live with
// the HTTP layer; the pipeline only reads stored recordings and sweeps the
// temp area that uploads stage files into.
type FileStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	WriteTemp(ctx context.Context, data []byte, suffix string) (string, error)
	// CleanupExpiredTemp removes temp files older than ttl and returns the
	// number deleted.
	CleanupExpiredTemp(ctx context.Context, ttl time.Duration) (int, error)
}

type localFileStore struct {
	log     *logger.Logger
	root    string
	tempDir string
}

func NewLocalFileStore(root string, log *logger.Logger) (FileStore, error) {
	serviceLog := log.With("service", "FileStore")
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("file store root is empty")
	}
	tempDir := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create file store dirs: %w", err)
	}
	return &localFileStore{
		log:     serviceLog,
		root:    root,
		tempDir: tempDir,
	}, nil
}

func (s *localFileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("storage key is empty")
	}
	// Keys are relative paths under the root; reject anything that escapes.
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid storage key: %s", key)
	}
	f, err := os.Open(filepath.Join(s.root, clean))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *localFileStore) WriteTemp(ctx context.Context, data []byte, suffix string) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "upload-*"+suffix)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *localFileStore) CleanupExpiredTemp(ctx context.Context, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-ttl)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("Failed to remove expired temp file", "path", path, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info("Removed expired temp files", "count", deleted, "ttl", ttl)
	}
	return deleted, nil
}

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PathPrefix is where the HTTP server exposes files stored by LocalBackend.
const PathPrefix = "/media/"

var ErrInvalidPath = errors.New("invalid media path")

type LocalBackend struct {
	rootDir string
	baseURL string
}

func NewLocalBackend(rootDir, baseURL string) (*LocalBackend, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("media root directory is required")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media root directory: %w", err)
	}

	return &LocalBackend{
		rootDir: rootDir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}, nil
}

func (b *LocalBackend) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	absPath, err := b.resolveStoragePath(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), "media-write-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temporary media file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("writing media file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("closing temporary media file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return "", fmt.Errorf("finalizing media file: %w", err)
	}

	return b.URL(key), nil
}

func (b *LocalBackend) Open(key string) (*os.File, error) {
	absPath, err := b.resolveStoragePath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

func (b *LocalBackend) URL(key string) string {
	return b.baseURL + PathPrefix + strings.TrimLeft(key, "/")
}

func (b *LocalBackend) resolveStoragePath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}

	return filepath.Join(b.rootDir, clean), nil
}

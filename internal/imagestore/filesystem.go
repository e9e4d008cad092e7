package imagestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FilesystemStore copies uploads into a directory served under baseURL.
type FilesystemStore struct {
	baseDir string
	baseURL string
}

// NewFilesystemStore creates the media directory if needed.
func NewFilesystemStore(baseDir, baseURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir is the directory the HTTP layer serves.
func (fs *FilesystemStore) Dir() string {
	return fs.baseDir
}

// Upload copies the file under a fresh name so later writes to localPath do not
// change what was published.
func (fs *FilesystemStore) Upload(ctx context.Context, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	name := uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
	dest := filepath.Join(fs.baseDir, name)
	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dest)
		return "", fmt.Errorf("failed to copy media file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to close media file: %w", err)
	}
	return fs.baseURL + "/" + name, nil
}

// Package imagestore publishes local image files and returns their public links.
package imagestore

import "context"

// Store uploads a local file and returns a URL the vision services can fetch.
type Store interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
)

// GCS is a Store backed by a Google Cloud Storage bucket. Each (user, key)
// pair maps to one object under prefix/userID/key. It assumes Application
// Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed store writing under the given bucket and
// object prefix.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) objectName(userID, key string) string {
	return path.Join(g.prefix, userID, key)
}

// Get implements Store.
func (g *GCS) Get(ctx context.Context, userID, key string) (string, bool, error) {
	obj := g.client.Bucket(g.bucket).Object(g.objectName(userID, key))
	rc, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("GCS.Get %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", false, fmt.Errorf("GCS.Get %s: read object: %w", key, err)
	}
	return string(data), true, nil
}

// Set implements Store.
func (g *GCS) Set(ctx context.Context, userID, key, value string) error {
	obj := g.client.Bucket(g.bucket).Object(g.objectName(userID, key))
	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain"

	if _, err := io.WriteString(w, value); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCS.Set %s: write object: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCS.Set %s: finalize write: %w", key, err)
	}
	return nil
}

var _ Store = (*GCS)(nil)

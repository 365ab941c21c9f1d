package generation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
	storage_go "github.com/supabase-community/storage-go"
)

// AssetStore persists rendered media and returns a public URL for it.
type AssetStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// SupabaseAssets stores media in a Supabase Storage bucket.
type SupabaseAssets struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseAssets connects to the Supabase project at url.
func NewSupabaseAssets(url, key, bucket string) (*SupabaseAssets, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase client: %w", err)
	}
	return &SupabaseAssets{client: client, bucket: bucket}, nil
}

// Upload writes data to path, replacing any previous object, and returns its public URL.
func (s *SupabaseAssets) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err := s.client.Storage.UploadFile(s.bucket, path, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", Retryable("upload %s: %v", path, err)
	}
	return s.client.Storage.GetPublicUrl(s.bucket, path).SignedURL, nil
}

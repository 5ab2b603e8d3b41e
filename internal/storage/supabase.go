package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	supabase "github.com/supabase-community/storage-go"
)

// Supabase implements Provider on a Supabase Storage bucket.
// The storage-go client does not take a context; calls are not cancellable.
type Supabase struct {
	client  *supabase.Client
	baseURL string
	bucket  string
}

// NewSupabase creates a client for projectURL (e.g. https://xyz.supabase.co).
func NewSupabase(projectURL, apiKey, bucket string) *Supabase {
	projectURL = strings.TrimRight(projectURL, "/")
	return &Supabase{
		client:  supabase.NewClient(projectURL+"/storage/v1", apiKey, nil),
		baseURL: projectURL,
		bucket:  bucket,
	}
}

// Put uploads r with upsert enabled so existing objects are replaced.
func (s *Supabase) Put(_ context.Context, key string, r io.Reader) error {
	upsert := true
	if _, err := s.client.UploadFile(s.bucket, key, r, supabase.FileOptions{Upsert: &upsert}); err != nil {
		return fmt.Errorf("storage: supabase upload %s: %w", key, err)
	}
	return nil
}

// Get downloads the object into memory.
func (s *Supabase) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, fmt.Errorf("storage: supabase get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: supabase get %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object.
func (s *Supabase) Delete(_ context.Context, key string) error {
	if _, err := s.client.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("storage: supabase delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public object URL.
func (s *Supabase) URL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key)
}

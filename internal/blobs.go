package internal

import (
	"fmt"

	"github.com/starford/blobnotes/internal/storage"
)

// newBlobProvider builds the configured object storage backend.
func newBlobProvider(cfg BlobConfig) (storage.Provider, error) {
	switch cfg.Backend {
	case BackendAzure:
		p, err := storage.NewAzure(cfg.Account, cfg.AccountKey, cfg.Container)
		if err != nil {
			return nil, fmt.Errorf("init azure blob storage: %w", err)
		}
		return p, nil
	case BackendSupabase:
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Container), nil
	case BackendFS:
		p, err := storage.NewFS(cfg.Path, cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init fs blob storage: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Backend)
	}
}

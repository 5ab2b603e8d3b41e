package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureURL builds the public URL of a blob in an Azure storage container.
// The key is inserted verbatim.
func AzureURL(account, container, key string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", account, container, key)
}

// Azure implements Provider on an Azure Blob Storage container.
type Azure struct {
	client    *azblob.Client
	account   string
	container string
}

// NewAzure creates a shared-key authenticated client for one container.
func NewAzure(account, accountKey, container string) (*Azure, error) {
	cred, err := azblob.NewSharedKeyCredential(account, accountKey)
	if err != nil {
		return nil, fmt.Errorf("storage: azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: azure client: %w", err)
	}
	return &Azure{client: client, account: account, container: container}, nil
}

// Put uploads r as a block blob, overwriting any existing blob.
func (a *Azure) Put(ctx context.Context, key string, r io.Reader) error {
	if _, err := a.client.UploadStream(ctx, a.container, key, r, nil); err != nil {
		return fmt.Errorf("storage: azure upload %s: %w", key, err)
	}
	return nil
}

// Get streams the blob body.
func (a *Azure) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("storage: azure get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: azure get %s: %w", key, err)
	}
	return resp.Body, nil
}

// Delete removes the blob.
func (a *Azure) Delete(ctx context.Context, key string) error {
	if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("storage: azure delete %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("storage: azure delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public blob URL.
func (a *Azure) URL(key string) string {
	return AzureURL(a.account, a.container, key)
}

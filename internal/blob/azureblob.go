package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore is an Azure Blob Storage-backed Store for deployments that
// want durable, off-host blob retention. Handles are used as blob names
// directly within a single configured container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore builds a store against accountURL's container using
// DefaultAzureCredential (managed identity, environment, or CLI login, in
// that order), matching the teacher's azidentity wiring.
func NewAzureStore(accountURL, container string) (*AzureStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: azure client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, data []byte) (string, error) {
	handle := Handle(data)
	_, err := s.client.UploadBuffer(ctx, s.container, handle, data, nil)
	if err != nil {
		return "", fmt.Errorf("blob: azure upload: %w", err)
	}
	return handle, nil
}

func (s *AzureStore) Get(ctx context.Context, handle string) ([]byte, bool, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, handle, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.BlobNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blob: azure download: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("blob: azure read body: %w", err)
	}
	return data, true, nil
}

func (s *AzureStore) Delete(ctx context.Context, handle string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, handle, nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == string(bloberror.BlobNotFound) {
		return nil
	}
	return err
}

var _ Store = (*AzureStore)(nil)

// Package gcs stores uploaded CSV files in Google Cloud Storage, with an
// in-memory implementation for local runs and tests.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Client reads and writes objects in Cloud Storage.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type Client struct {
	client *storage.Client
}

// NewClient creates a Cloud Storage client.
func NewClient(ctx context.Context) (*Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// Open streams an object. The caller closes the reader.
func (c *Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("open %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader %s/%s: %w", bucket, key, err)
	}
	return r, nil
}

// PresignPut returns a V4 signed URL for a single PUT with the given content type.
func (c *Client) PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Method:      http.MethodPut,
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
		Scheme:      storage.SigningSchemeV4,
	}

	url, err := c.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

// Put writes r to an object and returns the number of bytes written.
func (c *Client) Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return written, fmt.Errorf("copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return written, fmt.Errorf("finalize upload: %w", err)
	}
	return written, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

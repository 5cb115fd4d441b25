package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in memory. PresignPut returns URLs under BaseURL
// that the API's blob upload endpoint accepts.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryStore creates an empty store issuing upload URLs under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Open implements pipeline.BlobStore.
func (m *MemoryStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("open %s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// PresignPut implements pipeline.BlobStore. The URL is not signed.
func (m *MemoryStore) PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	u := fmt.Sprintf("%s/blobs/%s/%s", m.baseURL, url.PathEscape(bucket), key)
	q := url.Values{}
	q.Set("contentType", contentType)
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return u + "?" + q.Encode(), nil
}

// Put stores the content of r, replacing any existing object.
func (m *MemoryStore) Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read upload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = data
	return int64(len(data)), nil
}

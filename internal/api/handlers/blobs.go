package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/splitledger/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// BlobWriter stores uploaded objects.
type BlobWriter interface {
	Put(ctx context.Context, bucket, key, contentType string, r io.Reader) (int64, error)
}

// BlobsHandler accepts direct uploads to the local blob store. It stands in for
// presigned storage URLs when the API runs without cloud storage.
type BlobsHandler struct {
	store   BlobWriter
	maxSize int64
	log     zerolog.Logger
}

// NewBlobsHandler creates a blob upload handler accepting bodies up to maxSize bytes.
func NewBlobsHandler(store BlobWriter, maxSize int64, log zerolog.Logger) *BlobsHandler {
	return &BlobsHandler{
		store:   store,
		maxSize: maxSize,
		log:     log,
	}
}

// Upload handles PUT /blobs/{bucket}/*
func (h *BlobsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if bucket == "" || key == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bucket and object key are required")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = r.URL.Query().Get("contentType")
	}

	body := http.MaxBytesReader(w, r.Body, h.maxSize)
	written, err := h.store.Put(r.Context(), bucket, key, contentType, body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "File is too large")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("Failed to store upload")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	h.log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", written).
		Msg("File uploaded successfully")

	w.WriteHeader(http.StatusOK)
}

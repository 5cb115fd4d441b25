package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/pipeline"
)

// apiClient calls the SplitLedger HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) InitiateUpload(ctx context.Context, fileName, userID string) (*pipeline.UploadResult, error) {
	var res pipeline.UploadResult
	err := c.do(ctx, http.MethodPost, "/csv/upload", map[string]string{
		"fileName":         fileName,
		"requestingUserId": userID,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// PutFile uploads the file content to a presigned URL.
func (c *apiClient) PutFile(ctx context.Context, presignedURL string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, r)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", pipeline.CSVContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &apiError{Status: resp.StatusCode, Message: "upload rejected: " + string(bytes.TrimSpace(msg))}
	}
	return nil
}

func (c *apiClient) ConfirmUpload(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/csv/"+url.PathEscape(jobID)+"/uploadCompleted", nil, nil)
}

func (c *apiClient) JobStatus(ctx context.Context, jobID string) (*pipeline.StatusView, error) {
	var view pipeline.StatusView
	if err := c.do(ctx, http.MethodGet, "/csv/"+url.PathEscape(jobID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *apiClient) ListJobs(ctx context.Context, userID, status string, limit, offset int) ([]*jobs.Job, error) {
	q := url.Values{}
	q.Set("userId", userID)
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var out struct {
		Jobs []*jobs.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/csv?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/splitledger/internal/app"
	"github.com/dvloznov/splitledger/internal/config"
	"github.com/dvloznov/splitledger/internal/jobs"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/dvloznov/splitledger/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const ownerID = "6f1c2a34-8b7e-4c1d-9a2f-0e5b6c7d8e9f"

func newServer(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg, err := config.Load(viper.New(), "")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.HTTP.BaseURL = srv.URL
	cfg.HTTP.RateLimit = 0

	a, err := app.New(context.Background(), cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	handler = a.Handler()

	ctx, cancel := context.WithCancel(context.Background())
	if err := a.StartWorker(ctx, false); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = a.StopWorker(context.Background())
		_ = a.Close()
	})
	return a, srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestUploadAndProcess(t *testing.T) {
	_, srv := newServer(t)

	var upload pipeline.UploadResult
	code := doJSON(t, http.MethodPost, srv.URL+"/csv/upload", map[string]string{
		"fileName":         "people.csv",
		"requestingUserId": ownerID,
	}, &upload)
	if code != http.StatusOK {
		t.Fatalf("upload status = %d", code)
	}
	if upload.JobID == "" || upload.ExpiresIn != 3600 {
		t.Fatalf("unexpected upload result: %+v", upload)
	}
	if !strings.HasPrefix(upload.PresignedURL, srv.URL+"/blobs/") {
		t.Fatalf("presigned URL %q does not target the local blob endpoint", upload.PresignedURL)
	}

	csv := "commandType,name,email\n" +
		"CREATE_USER,Ana,ana@example.com\n" +
		"CREATE_USER,Ben,ben@example.com\n" +
		"TRANSFER,Cy,cy@example.com\n"
	req, _ := http.NewRequest(http.MethodPut, upload.PresignedURL, strings.NewReader(csv))
	req.Header.Set("Content-Type", pipeline.CSVContentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT upload status = %d", resp.StatusCode)
	}

	var accepted map[string]string
	if code := doJSON(t, http.MethodPost, srv.URL+"/csv/"+upload.JobID+"/uploadCompleted", nil, &accepted); code != http.StatusAccepted {
		t.Fatalf("uploadCompleted status = %d", code)
	}
	if accepted["jobId"] != upload.JobID {
		t.Errorf("accepted jobId = %q", accepted["jobId"])
	}

	var view pipeline.StatusView
	deadline := time.Now().Add(5 * time.Second)
	for {
		if code := doJSON(t, http.MethodGet, srv.URL+"/csv/"+upload.JobID, nil, &view); code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if view.Job.Status.IsTerminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s after 5s", view.Job.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if view.Job.Status != jobs.JobStatusCompletedWithErrors {
		t.Errorf("status = %s, want %s", view.Job.Status, jobs.JobStatusCompletedWithErrors)
	}
	if view.Job.TotalRecords == nil || *view.Job.TotalRecords != 3 {
		t.Errorf("totalRecords = %v, want 3", view.Job.TotalRecords)
	}
	if len(view.CommandResults) != 3 {
		t.Fatalf("got %d command results, want 3", len(view.CommandResults))
	}
	if last := view.CommandResults[2]; last.Status != jobs.CommandStatusFailed || last.CommandType != "UNKNOWN_COMMAND_TYPE" {
		t.Errorf("last result = %+v", last)
	}

	var conflict map[string]string
	if code := doJSON(t, http.MethodPost, srv.URL+"/csv/"+upload.JobID+"/uploadCompleted", nil, &conflict); code != http.StatusConflict {
		t.Errorf("second uploadCompleted status = %d, want 409", code)
	}

	var list struct {
		Jobs  []*jobs.Job `json:"jobs"`
		Count int         `json:"count"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/csv?userId="+ownerID, nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Count != 1 || list.Jobs[0].ID != upload.JobID {
		t.Errorf("unexpected job list: %+v", list)
	}
}

func TestHTTPErrors(t *testing.T) {
	_, srv := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "non csv upload", method: http.MethodPost, path: "/csv/upload", body: map[string]string{"fileName": "a.txt", "requestingUserId": ownerID}, want: http.StatusBadRequest},
		{name: "missing user", method: http.MethodPost, path: "/csv/upload", body: map[string]string{"fileName": "a.csv"}, want: http.StatusBadRequest},
		{name: "unknown job status", method: http.MethodGet, path: "/csv/does-not-exist", want: http.StatusNotFound},
		{name: "confirm unknown job", method: http.MethodPost, path: "/csv/does-not-exist/uploadCompleted", want: http.StatusNotFound},
		{name: "list without user", method: http.MethodGet, path: "/csv", want: http.StatusBadRequest},
		{name: "list bad limit", method: http.MethodGet, path: "/csv?userId=" + ownerID + "&limit=many", want: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/nope", want: http.StatusNotFound},
		{name: "health", method: http.MethodGet, path: "/health", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			if got := doJSON(t, tt.method, srv.URL+tt.path, tt.body, &out); got != tt.want {
				t.Errorf("status = %d, want %d (%v)", got, tt.want, out)
			}
			if tt.want >= 400 {
				if _, ok := out["error"]; !ok {
					t.Errorf("error body missing: %v", out)
				}
			}
		})
	}
}

// uploadAndWait runs a CSV through the upload flow and polls until the job is terminal.
func uploadAndWait(t *testing.T, srv *httptest.Server, owner, csv string, timeout time.Duration) pipeline.StatusView {
	t.Helper()

	var upload pipeline.UploadResult
	if code := doJSON(t, http.MethodPost, srv.URL+"/csv/upload", map[string]string{
		"fileName":         "bulk.csv",
		"requestingUserId": owner,
	}, &upload); code != http.StatusOK {
		t.Fatalf("upload status = %d", code)
	}

	req, _ := http.NewRequest(http.MethodPut, upload.PresignedURL, strings.NewReader(csv))
	req.Header.Set("Content-Type", pipeline.CSVContentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT upload status = %d", resp.StatusCode)
	}

	if code := doJSON(t, http.MethodPost, srv.URL+"/csv/"+upload.JobID+"/uploadCompleted", nil, nil); code != http.StatusAccepted {
		t.Fatalf("uploadCompleted status = %d", code)
	}

	var view pipeline.StatusView
	deadline := time.Now().Add(timeout)
	for {
		if code := doJSON(t, http.MethodGet, srv.URL+"/csv/"+upload.JobID, nil, &view); code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if view.Job.Status.IsTerminal() {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s after %s with %d results", view.Job.Status, timeout, len(view.CommandResults))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUploadAndProcess_ExpensesBeyondQueueBuffer(t *testing.T) {
	a, srv := newServer(t)
	ctx := context.Background()

	var members []string
	for _, name := range []string{"ana", "ben", "cy"} {
		u, err := a.Users.CreateUser(ctx, ledger.CreateUserInput{Name: name, Email: name + "@example.com"})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		members = append(members, u.ID)
	}
	group, err := a.Groups.CreateGroup(ctx, ledger.CreateGroupInput{Name: "Trip", InitialMemberIDs: members})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// Every row publishes an expense event that fans out to one email per member,
	// several times the in-memory queue's channel capacity.
	const rows = 250
	var b strings.Builder
	b.WriteString("commandType,description,amount,currency,expenseDate,groupId,payerId,splitType\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "CREATE_EXPENSE,Dinner %d,%d,EUR,2024-05-01,%s,%s,EQUAL\n", i, 1000+i, group.ID, members[0])
	}

	view := uploadAndWait(t, srv, members[0], b.String(), 20*time.Second)

	if view.Job.Status != jobs.JobStatusCompleted {
		t.Errorf("status = %s (%s), want %s", view.Job.Status, view.Job.ErrorMessage, jobs.JobStatusCompleted)
	}
	if view.Job.SuccessfulRecords == nil || *view.Job.SuccessfulRecords != rows {
		t.Errorf("processedRecords = %v, want %d", view.Job.SuccessfulRecords, rows)
	}
	if len(view.CommandResults) != rows {
		t.Errorf("got %d command results, want %d", len(view.CommandResults), rows)
	}
}

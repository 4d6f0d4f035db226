package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medcase/internal/types"
)

// newTestAIClient points an AIServiceClient at the given test server with
// retries and delays disabled.
func newTestAIClient(serverURL string) *AIServiceClient {
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"ai-service-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"Medcase-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	return NewAIServiceClientWithBase(base, serverURL, types.SecretString("test-token"), nil)
}

func TestAIService_Ingest(t *testing.T) {
	var gotPath, gotUser, gotAuth, gotFilename string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-User-Id")
		gotAuth = r.Header.Get("Authorization")

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected a multipart file part: %v", err)
		} else {
			gotFilename = header.Filename
			file.Close()
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"case_id":"case-42","status":"processing","chunks":17}`))
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	result, err := client.Ingest(context.Background(), "user-1", "labs.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if gotPath != "/ingest/process" {
		t.Errorf("expected /ingest/process, got %s", gotPath)
	}
	if gotUser != "user-1" {
		t.Errorf("expected X-User-Id user-1, got %s", gotUser)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer auth, got %s", gotAuth)
	}
	if gotFilename != "labs.pdf" {
		t.Errorf("expected filename labs.pdf, got %s", gotFilename)
	}
	if result.CaseID != "case-42" {
		t.Errorf("expected case-42, got %s", result.CaseID)
	}
	// The raw payload is preserved verbatim so the API can proxy it.
	if string(result.Raw) != `{"case_id":"case-42","status":"processing","chunks":17}` {
		t.Errorf("raw payload mangled: %s", result.Raw)
	}
}

func TestAIService_IngestUpstreamRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"unsupported file type"}`))
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	_, err := client.Ingest(context.Background(), "user-1", "notes.txt", "text/plain", strings.NewReader("hello"))
	if err == nil {
		t.Fatal("expected error for upstream rejection")
	}
	if code := errCode(t, err); code != types.ErrCodeUpstreamAIService {
		t.Errorf("expected upstream code, got %s", code)
	}
}

func TestAIService_ListCaseIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/user-1/cases" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"user_id":"user-1","case_ids":["c1","c2"]}`))
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	ids, err := client.ListCaseIDs(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListCaseIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("unexpected case IDs: %v", ids)
	}
}

func TestAIService_ListCaseIDsNoCases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	ids, err := client.ListCaseIDs(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("a user with no cases is not an error: %v", err)
	}
	if ids != nil {
		t.Errorf("expected nil case list, got %v", ids)
	}
}

func TestAIService_DeleteCaseFilesAlreadyGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/cases/c1/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	// 404 means the case was already deleted; retried cleanup must succeed.
	if err := client.DeleteCaseFiles(context.Background(), "c1"); err != nil {
		t.Errorf("expected idempotent delete, got: %v", err)
	}
}

func TestAIService_DeleteCaseIndexPath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	if err := client.DeleteCaseIndex(context.Background(), "c7"); err != nil {
		t.Fatalf("DeleteCaseIndex: %v", err)
	}
	if gotPath != "/vector/cleanup/c7" {
		t.Errorf("unexpected path %s", gotPath)
	}
}

func TestAIService_DeleteRequiresCaseID(t *testing.T) {
	client := newTestAIClient("http://unused.invalid")

	err := client.DeleteCaseFiles(context.Background(), "")
	if err == nil {
		t.Fatal("expected error for empty case ID")
	}
	if code := errCode(t, err); code != types.ErrCodeNotFoundCase {
		t.Errorf("expected not found code, got %s", code)
	}
}

func TestAIService_DeleteUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestAIClient(server.URL)

	err := client.DeleteCaseFiles(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected error for upstream failure")
	}
	if code := errCode(t, err); code != types.ErrCodeUpstreamAIService {
		t.Errorf("expected upstream code, got %s", code)
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcase/internal/entitlement"
	"medcase/internal/external"
	"medcase/internal/types"
)

// =============================================================================
// Mock Implementations for Case Handler
// =============================================================================

type mockQuotaGuard struct {
	checkFn  func(ctx context.Context, userID string) (*entitlement.QuotaDecision, error)
	commitFn func(ctx context.Context, userID, uploadID string) error

	checkCalled       bool
	commitCalled      bool
	committedUploadID string
}

func (m *mockQuotaGuard) CheckReportUpload(ctx context.Context, userID string) (*entitlement.QuotaDecision, error) {
	m.checkCalled = true
	if m.checkFn != nil {
		return m.checkFn(ctx, userID)
	}
	return &entitlement.QuotaDecision{Plan: types.PlanFree}, nil
}

func (m *mockQuotaGuard) CommitUpload(ctx context.Context, userID, uploadID string) error {
	m.commitCalled = true
	m.committedUploadID = uploadID
	if m.commitFn != nil {
		return m.commitFn(ctx, userID, uploadID)
	}
	return nil
}

type mockIngester struct {
	ingestFn func(ctx context.Context, userID, filename, contentType string, file io.Reader) (*external.IngestResult, error)

	ingestCalled     bool
	capturedFilename string
	capturedBody     []byte
}

func (m *mockIngester) Ingest(ctx context.Context, userID, filename, contentType string, file io.Reader) (*external.IngestResult, error) {
	m.ingestCalled = true
	m.capturedFilename = filename
	m.capturedBody, _ = io.ReadAll(file)
	if m.ingestFn != nil {
		return m.ingestFn(ctx, userID, filename, contentType, file)
	}
	return &external.IngestResult{
		CaseID: "case-abc",
		Raw:    json.RawMessage(`{"case_id":"case-abc","status":"processing"}`),
	}, nil
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestCaseHandler() (*CaseHandler, *mockQuotaGuard, *mockIngester) {
	guard := &mockQuotaGuard{}
	ingester := &mockIngester{}
	return NewCaseHandler(guard, ingester, nil), guard, ingester
}

// uploadRequest builds a multipart POST carrying one file part and the
// caller's identity on the context.
func uploadRequest(t *testing.T, userID, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/cases", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if userID != "" {
		req = req.WithContext(types.WithUserID(req.Context(), userID))
	}
	return req
}

// =============================================================================
// Case Handler Tests
// =============================================================================

func TestCaseHandler_CreateCase_Success(t *testing.T) {
	h, guard, ingester := newTestCaseHandler()

	req := uploadRequest(t, "user-1", "labs.pdf", []byte("%PDF-1.4 report"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"case_id":"case-abc","status":"processing"}`, w.Body.String())

	assert.True(t, ingester.ingestCalled)
	assert.Equal(t, "labs.pdf", ingester.capturedFilename)
	assert.Equal(t, []byte("%PDF-1.4 report"), ingester.capturedBody)

	// Usage is committed with the upstream case ID so a retried request
	// cannot double-count.
	assert.True(t, guard.commitCalled)
	assert.Equal(t, "case-abc", guard.committedUploadID)
}

func TestCaseHandler_CreateCase_NoIdentity(t *testing.T) {
	h, guard, ingester := newTestCaseHandler()

	req := uploadRequest(t, "", "labs.pdf", []byte("data"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, guard.checkCalled)
	assert.False(t, ingester.ingestCalled)
}

func TestCaseHandler_CreateCase_QuotaExceeded(t *testing.T) {
	h, guard, ingester := newTestCaseHandler()
	guard.checkFn = func(_ context.Context, _ string) (*entitlement.QuotaDecision, error) {
		return nil, types.NewAppError(types.ErrCodeQuotaReportsExceeded, "report upload limit reached", nil)
	}

	req := uploadRequest(t, "user-1", "labs.pdf", []byte("data"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	// A user at cap never reaches the AI service.
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(types.ErrCodeQuotaReportsExceeded), decodeErrorCode(t, w.Body.Bytes()))
	assert.False(t, ingester.ingestCalled)
	assert.False(t, guard.commitCalled)
}

func TestCaseHandler_CreateCase_MissingFile(t *testing.T) {
	h, _, ingester := newTestCaseHandler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/cases", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(types.WithUserID(req.Context(), "user-1"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingFile), decodeErrorCode(t, w.Body.Bytes()))
	assert.False(t, ingester.ingestCalled)
}

func TestCaseHandler_CreateCase_UpstreamFailure(t *testing.T) {
	h, guard, ingester := newTestCaseHandler()
	ingester.ingestFn = func(_ context.Context, _, _, _ string, _ io.Reader) (*external.IngestResult, error) {
		return nil, types.NewAppError(types.ErrCodeUpstreamAIService, "ai service unavailable", nil)
	}

	req := uploadRequest(t, "user-1", "labs.pdf", []byte("data"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	// Nothing was accepted upstream, so nothing is charged.
	assert.False(t, guard.commitCalled)
}

func TestCaseHandler_CreateCase_CommitFailureStillSucceeds(t *testing.T) {
	h, guard, _ := newTestCaseHandler()
	guard.commitFn = func(_ context.Context, _, _ string) error {
		return errors.New("db write failed")
	}

	req := uploadRequest(t, "user-1", "labs.pdf", []byte("data"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	// The report exists upstream; the response the user paid for is returned.
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"case_id":"case-abc","status":"processing"}`, w.Body.String())
}

func TestCaseHandler_CreateCase_MissingCaseIDGetsGeneratedUploadID(t *testing.T) {
	h, guard, ingester := newTestCaseHandler()
	ingester.ingestFn = func(_ context.Context, _, _, _ string, _ io.Reader) (*external.IngestResult, error) {
		return &external.IngestResult{Raw: json.RawMessage(`{"status":"processing"}`)}, nil
	}

	req := uploadRequest(t, "user-1", "labs.pdf", []byte("data"))
	w := httptest.NewRecorder()

	h.CreateCase(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, guard.commitCalled)
	assert.NotEmpty(t, guard.committedUploadID)
}

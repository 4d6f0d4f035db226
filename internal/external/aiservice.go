package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"medcase/internal/config"
	"medcase/internal/types"
)

// IngestResult is the response from the AI service ingest pipeline. Raw
// carries the full upstream payload so the API can proxy it back unchanged.
type IngestResult struct {
	CaseID string          `json:"case_id"`
	Raw    json.RawMessage `json:"-"`
}

// listCasesResponse is the envelope returned by GET /users/{id}/cases.
type listCasesResponse struct {
	UserID  string   `json:"user_id"`
	CaseIDs []string `json:"case_ids"`
}

// AIServiceClient talks to the AI processing service that owns case
// ingestion, stored report files, and the derived vector indexes. All calls
// go through BaseClient for circuit breaking and retries.
//
// It satisfies the sweeper's case listing and deletion interfaces as well as
// the upload proxy's ingest dependency.
type AIServiceClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
	logger  *slog.Logger

	// callTimeout bounds the list and delete calls; the shared http.Client
	// timeout is sized for ingest, which runs the full processing pipeline
	// and takes far longer.
	callTimeout time.Duration
}

// NewAIServiceClient builds the client from config.
func NewAIServiceClient(cfg config.AIServiceConfig, logger *slog.Logger) *AIServiceClient {
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		&http.Client{Timeout: cfg.IngestTimeout},
		"ai-service",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"Medcase/1.0",
	)

	return &AIServiceClient{
		base:        base,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		token:       cfg.Token,
		logger:      logger,
		callTimeout: cfg.CallTimeout,
	}
}

// NewAIServiceClientWithBase builds the client around a pre-configured
// BaseClient, used by tests to disable retries and real delays.
func NewAIServiceClientWithBase(base *BaseClient, baseURL string, token types.SecretString, logger *slog.Logger) *AIServiceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIServiceClient{
		base:        base,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		token:       token,
		logger:      logger,
		callTimeout: 30 * time.Second,
	}
}

// boundCtx applies the per-call timeout used by the maintenance endpoints.
func (c *AIServiceClient) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *AIServiceClient) setAuth(req *http.Request) {
	if tok := c.token.Unmask(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// Ingest uploads a report file to the AI service processing pipeline under
// the given user. The file is buffered into a multipart body before sending
// so the resilience layer can replay it on retry.
func (c *AIServiceClient) Ingest(ctx context.Context, userID, filename, contentType string, file io.Reader) (*IngestResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if contentType == "" {
		contentType = "application/pdf"
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)

	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build multipart upload", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read upload file", err)
	}
	if err := mw.Close(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to finalize multipart upload", err)
	}

	url := c.baseURL + "/ingest/process"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create ingest request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-Id", userID)
	c.setAuth(req)

	c.logger.InfoContext(ctx, "forwarding report to AI ingest",
		"user_id", userID,
		"filename", filename,
		"size_bytes", buf.Len(),
	)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("Ingest", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read ingest response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, body, "Ingest")
	}

	result := &IngestResult{Raw: body}
	if err := json.Unmarshal(body, result); err != nil {
		// The pipeline response is proxied through verbatim, so a parse
		// failure only loses the case ID for logging.
		c.logger.WarnContext(ctx, "could not parse ingest response", "error", err)
	}

	c.logger.InfoContext(ctx, "AI ingest accepted report",
		"user_id", userID,
		"case_id", result.CaseID,
	)

	return result, nil
}

// ListCaseIDs returns the IDs of every case the AI service holds for a user.
// The cleanup pass uses this to enumerate what to delete.
func (c *AIServiceClient) ListCaseIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := c.boundCtx(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/users/%s/cases", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create case list request", err)
	}
	req.Header.Set("X-User-Id", userID)
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.wrapError("ListCaseIDs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No cases stored for this user.
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, c.handleErrorResponse(resp.StatusCode, body, "ListCaseIDs")
	}

	var out listCasesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode case list response", err)
	}
	return out.CaseIDs, nil
}

// DeleteCaseFiles removes the stored report files for a case. A 404 means
// the case is already gone, which counts as success.
func (c *AIServiceClient) DeleteCaseFiles(ctx context.Context, caseID string) error {
	url := fmt.Sprintf("%s/cases/%s/files", c.baseURL, caseID)
	return c.delete(ctx, url, "DeleteCaseFiles", caseID)
}

// DeleteCaseIndex removes the vector index entries for a case. Idempotent
// like DeleteCaseFiles.
func (c *AIServiceClient) DeleteCaseIndex(ctx context.Context, caseID string) error {
	url := fmt.Sprintf("%s/vector/cleanup/%s", c.baseURL, caseID)
	return c.delete(ctx, url, "DeleteCaseIndex", caseID)
}

func (c *AIServiceClient) delete(ctx context.Context, url, operation, caseID string) error {
	if caseID == "" {
		return types.NewAppError(types.ErrCodeNotFoundCase, "case ID is required for deletion", nil)
	}

	ctx, cancel := c.boundCtx(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create delete request", err)
	}
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrapError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.DebugContext(ctx, "case already deleted upstream",
			"operation", operation,
			"case_id", caseID,
		)
		return nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.handleErrorResponse(resp.StatusCode, body, operation)
	}
	return nil
}

// handleErrorResponse logs the upstream error body and maps the status to a
// domain error.
func (c *AIServiceClient) handleErrorResponse(status int, body []byte, operation string) *types.AppError {
	bodyStr := string(body)

	c.logger.Error("AI service error",
		"operation", operation,
		"status_code", status,
		"response_body", bodyStr,
	)

	switch {
	case status == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundCase,
			fmt.Sprintf("AI service resource not found: %s", operation),
			fmt.Errorf("AI service %s returned 404: %s", operation, bodyStr),
		)
	case status >= 400 && status < 500:
		return types.NewAppError(
			types.ErrCodeUpstreamAIService,
			fmt.Sprintf("AI service rejected request (%d): %s", status, operation),
			fmt.Errorf("AI service %s returned %d: %s", operation, status, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamAIService,
			fmt.Sprintf("AI service error (%d): %s", status, operation),
			fmt.Errorf("AI service %s returned %d: %s", operation, status, bodyStr),
		)
	}
}

// wrapError preserves the code from BaseClient errors while attaching the
// failed operation.
func (c *AIServiceClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("AI service %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamAIService,
		fmt.Sprintf("AI service %s failed", operation),
		err,
	)
}

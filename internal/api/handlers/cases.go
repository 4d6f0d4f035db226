package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medcase/internal/core"
	"medcase/internal/entitlement"
	"medcase/internal/external"
	"medcase/internal/types"
)

// maxUploadSize caps the report file size accepted by the upload proxy (25 MB).
const maxUploadSize = 25 << 20

// QuotaGuard gates the upload path: admission check before the upstream
// call, usage commit after it succeeds.
type QuotaGuard interface {
	CheckReportUpload(ctx context.Context, userID string) (*entitlement.QuotaDecision, error)
	CommitUpload(ctx context.Context, userID, uploadID string) error
}

// ReportIngester forwards the report file to the AI processing pipeline.
type ReportIngester interface {
	Ingest(ctx context.Context, userID, filename, contentType string, file io.Reader) (*external.IngestResult, error)
}

// CaseHandler serves the quota-gated report upload proxy.
type CaseHandler struct {
	guard    QuotaGuard
	ingester ReportIngester
	logger   *slog.Logger
}

// NewCaseHandler creates a CaseHandler.
func NewCaseHandler(guard QuotaGuard, ingester ReportIngester, l *slog.Logger) *CaseHandler {
	if l == nil {
		l = slog.Default()
	}
	return &CaseHandler{
		guard:    guard,
		ingester: ingester,
		logger:   l,
	}
}

// RegisterRoutes mounts the case endpoints on the v1 router.
func (h *CaseHandler) RegisterRoutes(r chi.Router) {
	r.Post("/cases", h.CreateCase)
}

// CreateCase handles POST /v1/cases. The sequence matters:
//
//  1. Quota admission check. A user at cap never reaches the AI service.
//  2. Forward the file to the AI ingest pipeline.
//  3. Commit usage only after the upstream accepted the report, keyed by
//     the case ID so a retried request cannot double-count.
//
// A commit failure after a successful ingest is logged but does not fail the
// request: the report exists upstream and under-counting one upload beats
// charging the user for a response they never saw.
func (h *CaseHandler) CreateCase(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if userID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUserMissing, "user identity is required", nil))
		return
	}

	decision, err := h.guard.CheckReportUpload(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingFile,
			"please attach a file under 'file'",
			err,
		))
		return
	}
	defer file.Close()

	result, err := h.ingester.Ingest(
		r.Context(),
		userID,
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	uploadID := result.CaseID
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	if err := h.guard.CommitUpload(r.Context(), userID, uploadID); err != nil {
		h.logger.ErrorContext(r.Context(), "usage commit failed after successful ingest",
			"user_id", userID,
			"upload_id", uploadID,
			"plan", string(decision.Plan),
			"error", err,
		)
	}

	core.Raw(w, http.StatusCreated, result.Raw)
}

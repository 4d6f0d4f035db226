package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medcase/internal/core"
	"medcase/internal/types"
)

// UsageReader returns the caller's consumption against the current plan caps.
type UsageReader interface {
	UsageSnapshot(ctx context.Context, userID string) (*types.UsageSnapshot, error)
}

// UsageHandler serves the usage snapshot endpoint.
type UsageHandler struct {
	usage  UsageReader
	logger *slog.Logger
}

// NewUsageHandler creates a UsageHandler.
func NewUsageHandler(usage UsageReader, l *slog.Logger) *UsageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{usage: usage, logger: l}
}

// RegisterRoutes mounts the usage endpoint on the v1 router.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.GetUsage)
}

// GetUsage handles GET /v1/usage for the authenticated user.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := types.GetUserID(r.Context())
	if userID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthUserMissing, "user identity is required", nil))
		return
	}

	snapshot, err := h.usage.UsageSnapshot(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}

package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"barter-exchange/internal/observability"
)

// SuspensionSweeper clears suspended_until/suspension_reason on accounts whose
// suspension has already lapsed, at most batchSize rows per call.
type SuspensionSweeper interface {
	ClearLapsedSuspensions(ctx context.Context, batchSize int) (int64, error)
}

type CleanupHandler struct {
	sweeper    SuspensionSweeper
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(sweeper SuspensionSweeper, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	start := time.Now()
	cleared, err := h.sweeper.ClearLapsedSuspensions(r.Context(), h.batchSize)
	if err != nil {
		h.logger.Error("suspension_cleanup_failed", map[string]any{
			"error":      err.Error(),
			"request_id": observability.RequestID(r.Context()),
		})
		observability.CaptureRequestError(r, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("suspension_cleanup_completed", map[string]any{
		"cleared_suspensions": cleared,
		"batch_size":          h.batchSize,
		"duration_ms":         time.Since(start).Milliseconds(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"cleared": cleared,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

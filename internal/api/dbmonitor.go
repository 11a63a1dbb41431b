package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const connectionTestTimeout = 5 * time.Second

var timeNow = time.Now

// The /monitor/db routes report on the question store. They require a signed-in
// user and answer 503 when the store is unreachable or cannot report.

func (h *Handler) dbMonitorPreamble(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if userFromRequest(r) == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return false
	}
	if h.Health == nil {
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "error",
			"message":   "question store does not report health",
			"timestamp": timestamp(),
		})
		return false
	}
	return true
}

func (h *Handler) handleDBPoolStatus(w http.ResponseWriter, r *http.Request) {
	if !h.dbMonitorPreamble(w, r) {
		return
	}
	data := h.Health.Stats()
	data["timestamp"] = timestamp()
	if err := writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": data}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleDBConnectionTest(w http.ResponseWriter, r *http.Request) {
	if !h.dbMonitorPreamble(w, r) {
		return
	}
	body, ok := h.connectionTest(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, code, body); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	if !h.dbMonitorPreamble(w, r) {
		return
	}
	conn, ok := h.connectionTest(r.Context())
	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	if err := writeJSON(w, code, map[string]any{
		"status":     status,
		"pool":       h.Health.Stats(),
		"connection": conn,
		"timestamp":  timestamp(),
	}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) connectionTest(ctx context.Context) (map[string]any, bool) {
	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()
	start := timeNow()
	err := h.Health.Ping(ctx)
	elapsed := timeNow().Sub(start)
	if err != nil {
		log.WithError(err).Warn("question store connection test failed")
		return map[string]any{
			"status":    "error",
			"message":   "Database connection failed: " + err.Error(),
			"timestamp": timestamp(),
		}, false
	}
	return map[string]any{
		"status":           "success",
		"message":          "Database connection is healthy",
		"response_time_ms": float64(elapsed.Microseconds()) / 1000,
		"timestamp":        timestamp(),
	}, true
}

func timestamp() string {
	return timeNow().UTC().Format(time.RFC3339)
}

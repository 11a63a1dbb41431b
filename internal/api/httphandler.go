package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"qcache/internal/monitor"
	"qcache/internal/ports"
	"qcache/internal/slots"
	"qcache/internal/types"
)

const noQuestionDetail = "Could not retrieve or generate a new question at this time."

// QuestionPool is the part of the pool manager the HTTP layer serves from.
type QuestionPool interface {
	FetchOrGenerate(ctx context.Context, userID, topic, difficulty string) (types.Question, bool)
	EnsureWarm(ctx context.Context, userID string) int
	Registry() *slots.Registry
}

// QuestionLookup loads stored questions by id.
type QuestionLookup interface {
	GetQuestion(ctx context.Context, id int64) (types.Question, error)
}

type MonitorState interface {
	State() monitor.State
}

// Handler serves the practice and monitor routes. Health is optional; without
// it the /monitor/db routes answer 503.
type Handler struct {
	Pool           QuestionPool
	Questions      QuestionLookup
	Health         ports.StoreHealth
	Monitor        MonitorState
	RequestTimeout time.Duration
}

func NewHandler(pool QuestionPool, questions QuestionLookup, mon MonitorState, requestTimeout time.Duration) *Handler {
	h := &Handler{
		Pool:           pool,
		Questions:      questions,
		Monitor:        mon,
		RequestTimeout: requestTimeout,
	}
	if hc, ok := questions.(ports.StoreHealth); ok {
		h.Health = hc
	}
	return h
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/practice/cache/initialize", h.handleInitialize)
	mux.HandleFunc("/practice/set/new", h.handleNewQuestion)
	mux.HandleFunc("/practice/question/{id}", h.handleGetQuestion)
	mux.HandleFunc("/monitor/cache/status", h.handleStatus)
	mux.HandleFunc("/monitor/db/pool-status", h.handleDBPoolStatus)
	mux.HandleFunc("/monitor/db/connection-test", h.handleDBConnectionTest)
	mux.HandleFunc("/monitor/db/health", h.handleDBHealth)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleInitialize warms the caller's pool. Replenishment runs in the background,
// the response does not wait for it.
func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := userFromRequest(r)
	if userID == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	started := h.Pool.EnsureWarm(r.Context(), userID)
	log.WithFields(log.Fields{"userID": userID, "jobs": started}).Debug("cache pool initialization requested")
	if err := writeJSON(w, http.StatusOK, map[string]any{
		"message": "Cache pool initialization completed",
		"user_id": userID,
	}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

// handleNewQuestion serves one question. Requests without a user are served
// from the global pool owner.
func (h *Handler) handleNewQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.RequestTimeout)
	defer cancel()

	userID := userFromRequest(r)
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	difficulty := strings.TrimSpace(r.URL.Query().Get("difficulty"))

	h.Pool.EnsureWarm(ctx, userID)
	q, ok := h.Pool.FetchOrGenerate(ctx, userID, topic, difficulty)
	if !ok {
		log.WithFields(log.Fields{
			"userID":     userID,
			"topic":      topic,
			"difficulty": difficulty,
		}).Warn("failed to get or generate a question")
		writeDetail(w, http.StatusNotFound, noQuestionDetail)
		return
	}
	if err := writeJSON(w, http.StatusOK, q); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusBadRequest, "Invalid question id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.RequestTimeout)
	defer cancel()

	q, err := h.Questions.GetQuestion(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Question not found")
		return
	}
	if err != nil {
		log.WithError(err).WithField("questionID", id).Error("failed to load question")
		writeDetail(w, http.StatusInternalServerError, "Failed to load question")
		return
	}
	if err := writeJSON(w, http.StatusOK, q); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := writeJSON(w, http.StatusOK, map[string]any{
		"monitor": h.Monitor.State().String(),
		"slots":   h.Pool.Registry().Slots(),
	}); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
	}
}

func userFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(types.UserIDHdrName))
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	if err := writeJSON(w, code, map[string]string{"detail": detail}); err != nil {
		http.Error(w, detail, code)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

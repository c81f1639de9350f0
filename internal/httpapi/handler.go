package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log"
	"net/http"
	"strconv"
	"strings"

	"marchemo/queue-service/internal/models"
	"marchemo/queue-service/internal/store"
)

// Notifier is invoked after a successful call-next. Implementations must
// absorb provider failures themselves: the call already happened and its
// state change is not rolled back.
type Notifier interface {
	ClientCalled(ctx context.Context, client models.Client)
}

// Broadcaster pushes queue changes to connected displays.
type Broadcaster interface {
	QueueUpdated(clients []models.Client)
	ClientCalled(client models.Client)
}

type Handler struct {
	ledger      store.Ledger
	audit       store.AuditLog
	notifier    Notifier
	broadcaster Broadcaster
}

type Options struct {
	Notifier    Notifier
	Broadcaster Broadcaster
}

type joinRequest struct {
	Phone string `json:"phone"`
}

type cancelRequest struct {
	TicketNumber string `json:"ticket_number"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(ledger store.Ledger, audit store.AuditLog, options Options) *Handler {
	return &Handler{
		ledger:      ledger,
		audit:       audit,
		notifier:    options.Notifier,
		broadcaster: options.Broadcaster,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/join", h.handleJoin)
	mux.HandleFunc("/api/queue/call", h.handleCall)
	mux.HandleFunc("/api/queue/reset", h.handleReset)
	mux.HandleFunc("/api/queue/hard-reset", h.handleHardReset)
	mux.HandleFunc("/api/queue/cancel", h.handleCancel)
	mux.HandleFunc("/api/queue/stats", h.handleStats)
	mux.HandleFunc("/api/queue/history", h.handleHistory)
	mux.HandleFunc("/api/queue/history/hourly", h.handleHourly)
	mux.HandleFunc("/api/sms/logs", h.handleSMSLogs)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clients, err := h.ledger.Queue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if clients == nil {
		clients = []models.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req joinRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone is required")
		return
	}

	client, err := h.ledger.Join(r.Context(), req.Phone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.broadcastQueue(r.Context())
	writeJSON(w, http.StatusCreated, client)
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	client, err := h.ledger.CallNext(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrQueueEmpty) {
			writeError(w, http.StatusNotFound, "queue_empty", "no client waiting")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.ClientCalled(client)
	}
	h.broadcastQueue(r.Context())
	if h.notifier != nil {
		h.notifier.ClientCalled(r.Context(), client)
	}

	writeJSON(w, http.StatusOK, client)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	affected, err := h.ledger.Reset(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.broadcastQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]int64{"affected": affected})
}

func (h *Handler) handleHardReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.ledger.HardResetToday(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.broadcastQueue(r.Context())
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.TicketNumber = strings.TrimSpace(req.TicketNumber)
	if req.TicketNumber == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_number is required")
		return
	}

	cancelled, err := h.ledger.Cancel(r.Context(), req.TicketNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if cancelled {
		h.broadcastQueue(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rng, ok := parseRangeParam(w, r)
	if !ok {
		return
	}

	stats, err := h.ledger.Stats(r.Context(), rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rng, ok := parseRangeParam(w, r)
	if !ok {
		return
	}

	clients, err := h.ledger.History(r.Context(), rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if clients == nil {
		clients = []models.Client{}
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) handleHourly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rng, ok := parseRangeParam(w, r)
	if !ok {
		return
	}

	counts, err := h.ledger.Hourly(r.Context(), rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if counts == nil {
		counts = []store.HourlyCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleSMSLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.audit.ListSMSLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if entries == nil {
		entries = []store.SMSLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// broadcastQueue re-fetches the live queue and pushes it to displays after
// every mutation. A failed re-fetch only costs the broadcast, not the
// operation that triggered it.
func (h *Handler) broadcastQueue(ctx context.Context) {
	if h.broadcaster == nil {
		return
	}
	clients, err := h.ledger.Queue(ctx)
	if err != nil {
		log.Printf("queue broadcast fetch error: %v", err)
		return
	}
	h.broadcaster.QueueUpdated(clients)
}

func parseRangeParam(w http.ResponseWriter, r *http.Request) (store.Range, bool) {
	rng, ok := store.ParseRange(strings.TrimSpace(r.URL.Query().Get("range")))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "range must be one of today, 7days, 30days, all")
		return "", false
	}
	return rng, true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

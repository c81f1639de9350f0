package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marchemo/queue-service/internal/models"
	"marchemo/queue-service/internal/store"
)

type fakeLedger struct {
	joinFn      func(ctx context.Context, phone string) (models.Client, error)
	queueFn     func(ctx context.Context) ([]models.Client, error)
	callFn      func(ctx context.Context) (models.Client, error)
	resetFn     func(ctx context.Context) (int64, error)
	hardResetFn func(ctx context.Context) (int64, error)
	cancelFn    func(ctx context.Context, ticketNumber string) (bool, error)
	statsFn     func(ctx context.Context, rng store.Range) (store.Stats, error)
	historyFn   func(ctx context.Context, rng store.Range) ([]models.Client, error)
	hourlyFn    func(ctx context.Context, rng store.Range) ([]store.HourlyCount, error)
}

func (f fakeLedger) Join(ctx context.Context, phone string) (models.Client, error) {
	if f.joinFn == nil {
		return models.Client{}, nil
	}
	return f.joinFn(ctx, phone)
}

func (f fakeLedger) Queue(ctx context.Context) ([]models.Client, error) {
	if f.queueFn == nil {
		return nil, nil
	}
	return f.queueFn(ctx)
}

func (f fakeLedger) CallNext(ctx context.Context) (models.Client, error) {
	if f.callFn == nil {
		return models.Client{}, nil
	}
	return f.callFn(ctx)
}

func (f fakeLedger) Reset(ctx context.Context) (int64, error) {
	if f.resetFn == nil {
		return 0, nil
	}
	return f.resetFn(ctx)
}

func (f fakeLedger) HardResetToday(ctx context.Context) (int64, error) {
	if f.hardResetFn == nil {
		return 0, nil
	}
	return f.hardResetFn(ctx)
}

func (f fakeLedger) Cancel(ctx context.Context, ticketNumber string) (bool, error) {
	if f.cancelFn == nil {
		return false, nil
	}
	return f.cancelFn(ctx, ticketNumber)
}

func (f fakeLedger) Stats(ctx context.Context, rng store.Range) (store.Stats, error) {
	if f.statsFn == nil {
		return store.Stats{}, nil
	}
	return f.statsFn(ctx, rng)
}

func (f fakeLedger) History(ctx context.Context, rng store.Range) ([]models.Client, error) {
	if f.historyFn == nil {
		return nil, nil
	}
	return f.historyFn(ctx, rng)
}

func (f fakeLedger) Hourly(ctx context.Context, rng store.Range) ([]store.HourlyCount, error) {
	if f.hourlyFn == nil {
		return nil, nil
	}
	return f.hourlyFn(ctx, rng)
}

type fakeAudit struct {
	logFn  func(ctx context.Context, entry store.SMSLog) error
	listFn func(ctx context.Context, limit int) ([]store.SMSLog, error)
}

func (f fakeAudit) LogSMS(ctx context.Context, entry store.SMSLog) error {
	if f.logFn == nil {
		return nil
	}
	return f.logFn(ctx, entry)
}

func (f fakeAudit) ListSMSLogs(ctx context.Context, limit int) ([]store.SMSLog, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, limit)
}

type recordingBroadcaster struct {
	queueUpdates [][]models.Client
	called       []models.Client
}

func (r *recordingBroadcaster) QueueUpdated(clients []models.Client) {
	r.queueUpdates = append(r.queueUpdates, clients)
}

func (r *recordingBroadcaster) ClientCalled(client models.Client) {
	r.called = append(r.called, client)
}

type recordingNotifier struct {
	called []models.Client
}

func (r *recordingNotifier) ClientCalled(ctx context.Context, client models.Client) {
	r.called = append(r.called, client)
}

func TestJoinSuccess(t *testing.T) {
	createdAt := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	ledger := fakeLedger{
		joinFn: func(ctx context.Context, phone string) (models.Client, error) {
			return models.Client{
				ID:           1,
				TicketNumber: "#0001",
				Phone:        phone,
				Status:       models.StatusWaiting,
				CreatedAt:    createdAt,
			}, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	h := NewHandler(ledger, fakeAudit{}, Options{Broadcaster: broadcaster})

	body, _ := json.Marshal(map[string]string{"phone": "0612345678"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/join", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	var client models.Client
	if err := json.NewDecoder(resp.Body).Decode(&client); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if client.TicketNumber != "#0001" || client.Status != models.StatusWaiting {
		t.Fatalf("unexpected client response: %+v", client)
	}
	if len(broadcaster.queueUpdates) != 1 {
		t.Fatalf("expected 1 queue broadcast, got %d", len(broadcaster.queueUpdates))
	}
}

func TestJoinMissingPhone(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	body, _ := json.Marshal(map[string]string{"phone": "  "})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/join", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "invalid_request" {
		t.Fatalf("error code %q, want invalid_request", payload.Error.Code)
	}
}

func TestJoinRejectsUnknownFields(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/join", bytes.NewReader([]byte(`{"phone":"0612345678","extra":true}`)))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCallNextSuccess(t *testing.T) {
	calledAt := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	client := models.Client{
		ID:           7,
		TicketNumber: "#0007",
		Phone:        "0612345678",
		Status:       models.StatusCalled,
		CreatedAt:    calledAt.Add(-10 * time.Minute),
		CalledAt:     &calledAt,
	}
	ledger := fakeLedger{
		callFn: func(ctx context.Context) (models.Client, error) {
			return client, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	notifier := &recordingNotifier{}
	h := NewHandler(ledger, fakeAudit{}, Options{Broadcaster: broadcaster, Notifier: notifier})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/call", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(broadcaster.called) != 1 || broadcaster.called[0].ID != client.ID {
		t.Fatalf("expected client_called broadcast for client %d", client.ID)
	}
	if len(broadcaster.queueUpdates) != 1 {
		t.Fatalf("expected 1 queue broadcast, got %d", len(broadcaster.queueUpdates))
	}
	if len(notifier.called) != 1 || notifier.called[0].ID != client.ID {
		t.Fatalf("expected notification for client %d", client.ID)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	ledger := fakeLedger{
		callFn: func(ctx context.Context) (models.Client, error) {
			return models.Client{}, store.ErrQueueEmpty
		},
	}
	broadcaster := &recordingBroadcaster{}
	notifier := &recordingNotifier{}
	h := NewHandler(ledger, fakeAudit{}, Options{Broadcaster: broadcaster, Notifier: notifier})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/call", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}

	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "queue_empty" {
		t.Fatalf("error code %q, want queue_empty", payload.Error.Code)
	}
	if len(broadcaster.called)+len(broadcaster.queueUpdates)+len(notifier.called) != 0 {
		t.Fatal("empty call must not broadcast or notify")
	}
}

func TestQueueList(t *testing.T) {
	waited := int64(5)
	ledger := fakeLedger{
		queueFn: func(ctx context.Context) ([]models.Client, error) {
			return []models.Client{
				{ID: 1, TicketNumber: "#0001", Status: models.StatusWaiting, WaitMinutes: &waited},
			}, nil
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var clients []models.Client
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(clients) != 1 || clients[0].WaitMinutes == nil || *clients[0].WaitMinutes != 5 {
		t.Fatalf("unexpected queue response: %+v", clients)
	}
}

func TestQueueEmptyReturnsArray(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if body := bytes.TrimSpace(resp.Body.Bytes()); !bytes.Equal(body, []byte("[]")) {
		t.Fatalf("body %q, want []", body)
	}
}

func TestResetReportsAffected(t *testing.T) {
	ledger := fakeLedger{
		resetFn: func(ctx context.Context) (int64, error) {
			return 3, nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	h := NewHandler(ledger, fakeAudit{}, Options{Broadcaster: broadcaster})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/reset", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["affected"] != 3 {
		t.Fatalf("affected %d, want 3", payload["affected"])
	}
	if len(broadcaster.queueUpdates) != 1 {
		t.Fatalf("expected 1 queue broadcast, got %d", len(broadcaster.queueUpdates))
	}
}

func TestHardResetReportsDeleted(t *testing.T) {
	ledger := fakeLedger{
		hardResetFn: func(ctx context.Context) (int64, error) {
			return 12, nil
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/queue/hard-reset", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["deleted"] != 12 {
		t.Fatalf("deleted %d, want 12", payload["deleted"])
	}
}

func TestCancelFound(t *testing.T) {
	ledger := fakeLedger{
		cancelFn: func(ctx context.Context, ticketNumber string) (bool, error) {
			return ticketNumber == "#0002", nil
		},
	}
	broadcaster := &recordingBroadcaster{}
	h := NewHandler(ledger, fakeAudit{}, Options{Broadcaster: broadcaster})

	body, _ := json.Marshal(map[string]string{"ticket_number": "#0002"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/cancel", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload["cancelled"] {
		t.Fatal("expected cancelled=true")
	}
	if len(broadcaster.queueUpdates) != 1 {
		t.Fatalf("expected 1 queue broadcast, got %d", len(broadcaster.queueUpdates))
	}
}

func TestCancelNotFoundSkipsBroadcast(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{Broadcaster: broadcaster})

	body, _ := json.Marshal(map[string]string{"ticket_number": "#9999"})
	req := httptest.NewRequest(http.MethodPost, "/api/queue/cancel", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["cancelled"] {
		t.Fatal("expected cancelled=false")
	}
	if len(broadcaster.queueUpdates) != 0 {
		t.Fatal("no-op cancel must not broadcast")
	}
}

func TestStatsPassesRange(t *testing.T) {
	avg := 4.5
	var gotRange store.Range
	ledger := fakeLedger{
		statsFn: func(ctx context.Context, rng store.Range) (store.Stats, error) {
			gotRange = rng
			return store.Stats{TotalClients: 10, TotalCalled: 8, AvgWaitMinutes: &avg}, nil
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats?range=7days", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotRange != store.Range7Days {
		t.Fatalf("range %q, want 7days", gotRange)
	}

	var stats store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.TotalClients != 10 || stats.AvgWaitMinutes == nil || *stats.AvgWaitMinutes != 4.5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStatsInvalidRange(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats?range=fortnight", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestHistoryDefaultsToToday(t *testing.T) {
	var gotRange store.Range
	ledger := fakeLedger{
		historyFn: func(ctx context.Context, rng store.Range) ([]models.Client, error) {
			gotRange = rng
			return nil, nil
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/history", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotRange != store.RangeToday {
		t.Fatalf("range %q, want today", gotRange)
	}
}

func TestHourlyCounts(t *testing.T) {
	ledger := fakeLedger{
		hourlyFn: func(ctx context.Context, rng store.Range) ([]store.HourlyCount, error) {
			return []store.HourlyCount{{Hour: 9, Count: 4}, {Hour: 10, Count: 2}}, nil
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/history/hourly?range=all", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var counts []store.HourlyCount
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(counts) != 2 || counts[0].Hour != 9 || counts[0].Count != 4 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestSMSLogsLimit(t *testing.T) {
	var gotLimit int
	audit := fakeAudit{
		listFn: func(ctx context.Context, limit int) ([]store.SMSLog, error) {
			gotLimit = limit
			return []store.SMSLog{{ID: 1, Phone: "+33612345678", Status: "sent"}}, nil
		},
	}
	h := NewHandler(fakeLedger{}, audit, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/sms/logs?limit=10", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotLimit != 10 {
		t.Fatalf("limit %d, want 10", gotLimit)
	}
}

func TestSMSLogsInvalidLimit(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/sms/logs?limit=-1", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestInternalErrorEnvelope(t *testing.T) {
	ledger := fakeLedger{
		queueFn: func(ctx context.Context) ([]models.Client, error) {
			return nil, errors.New("boom")
		},
	}
	h := NewHandler(ledger, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}

	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "internal_error" {
		t.Fatalf("error code %q, want internal_error", payload.Error.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(fakeLedger{}, fakeAudit{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queue/call", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

package store

import (
	"context"
	"time"

	"marchemo/queue-service/internal/models"
)

// Ledger is the sole authority over client records: it is the only component
// allowed to mutate status. Implementations exist for Postgres and for
// in-process memory; both enforce the same daily ticket sequence and the
// waiting -> called / waiting -> cancelled transitions.
type Ledger interface {
	// Join inserts a new waiting client and assigns the next ticket
	// number of the current day.
	Join(ctx context.Context, phone string) (models.Client, error)
	// Queue returns today's waiting clients in FIFO order, each annotated
	// with the minutes waited so far.
	Queue(ctx context.Context) ([]models.Client, error)
	// CallNext atomically claims the oldest waiting client of the day and
	// marks it called. Returns ErrQueueEmpty when nobody is waiting.
	CallNext(ctx context.Context) (models.Client, error)
	// Reset cancels every waiting client and returns how many it touched.
	Reset(ctx context.Context) (int64, error)
	// HardResetToday deletes all of today's records regardless of status
	// and restarts the ticket sequence at 1.
	HardResetToday(ctx context.Context) (int64, error)
	// Cancel moves a single waiting client to cancelled by ticket number.
	// Returns false when no waiting client holds that ticket.
	Cancel(ctx context.Context, ticketNumber string) (bool, error)
	Stats(ctx context.Context, rng Range) (Stats, error)
	History(ctx context.Context, rng Range) ([]models.Client, error)
	Hourly(ctx context.Context, rng Range) ([]HourlyCount, error)
}

// AuditLog records SMS delivery attempts. It is a side table: failures here
// must never roll back a ledger state change.
type AuditLog interface {
	LogSMS(ctx context.Context, entry SMSLog) error
	ListSMSLogs(ctx context.Context, limit int) ([]SMSLog, error)
}

type Stats struct {
	TotalClients int64 `json:"total_clients"`
	TotalCalled  int64 `json:"total_called"`
	// Mean wait in minutes over called clients only; nil when none were
	// called in the range. Never-called clients are excluded, not zero.
	AvgWaitMinutes *float64 `json:"avg_wait_minutes"`
}

type HourlyCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

type SMSLog struct {
	ID         int64     `json:"id"`
	ClientID   int64     `json:"client_id"`
	Phone      string    `json:"phone"`
	Message    string    `json:"message"`
	ProviderID string    `json:"provider_id,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

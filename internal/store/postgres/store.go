package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"marchemo/queue-service/internal/models"
	"marchemo/queue-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements store.Ledger and store.AuditLog on a pgx pool.
// All "today" arithmetic happens in Go against the configured location;
// queries only ever see explicit timestamp bounds.
type Store struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewStore(pool *pgxpool.Pool, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{pool: pool, loc: loc}
}

func (s *Store) Join(ctx context.Context, phone string) (models.Client, error) {
	now := time.Now().UTC()
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Client{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	seq, err := nextTicketNumber(ctx, tx, store.DayKey(now, s.loc))
	if err != nil {
		return models.Client{}, err
	}
	label := store.TicketLabel(seq)

	// A record from a previous day can still hold today's label. Free the
	// label by renaming the old record to its own id, which is unique.
	dayStart, _ := store.DayWindow(now, s.loc)
	if _, err = tx.Exec(ctx, `
		UPDATE clients
		SET ticket_number = id::text
		WHERE ticket_number = $1 AND created_at < $2
	`, label, dayStart); err != nil {
		return models.Client{}, err
	}

	var client models.Client
	row := tx.QueryRow(ctx, `
		INSERT INTO clients (ticket_number, phone, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, ticket_number, phone, status, created_at
	`, label, phone, models.StatusWaiting, now)
	if err = row.Scan(&client.ID, &client.TicketNumber, &client.Phone, &client.Status, &client.CreatedAt); err != nil {
		return models.Client{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Client{}, err
	}
	return client, nil
}

func (s *Store) Queue(ctx context.Context) ([]models.Client, error) {
	now := time.Now().UTC()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_number, phone, status, created_at, called_at
		FROM clients
		WHERE status = 'waiting' AND created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		waited := int64(now.Sub(client.CreatedAt).Minutes())
		client.WaitMinutes = &waited
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

// CallNext claims the oldest waiting client of the day in one statement.
// FOR UPDATE SKIP LOCKED keeps two concurrent callers from selecting the
// same row, so the select-then-update race cannot double-serve a client.
func (s *Store) CallNext(ctx context.Context) (models.Client, error) {
	now := time.Now().UTC()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	var client models.Client
	var calledAt sql.NullTime
	row := s.pool.QueryRow(ctx, `
		WITH next_client AS (
			SELECT id
			FROM clients
			WHERE status = ANY($4) AND created_at >= $1 AND created_at < $2
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE clients
		SET status = 'called',
			called_at = $3
		FROM next_client
		WHERE clients.id = next_client.id
		RETURNING clients.id, clients.ticket_number, clients.phone, clients.status, clients.created_at, clients.called_at
	`, dayStart, dayEnd, now, store.AllowedSources("call_next"))
	if err := row.Scan(&client.ID, &client.TicketNumber, &client.Phone, &client.Status, &client.CreatedAt, &calledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Client{}, store.ErrQueueEmpty
		}
		return models.Client{}, err
	}
	client.CalledAt = nullTimePtr(calledAt)
	return client, nil
}

func (s *Store) Reset(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients
		SET status = 'cancelled'
		WHERE status = ANY($1)
	`, store.AllowedSources("reset"))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) HardResetToday(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		DELETE FROM clients
		WHERE created_at >= $1 AND created_at < $2
	`, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}

	// Dropping the sequence row restarts tickets at #0001.
	if _, err = tx.Exec(ctx, `
		DELETE FROM ticket_sequences
		WHERE day = $1
	`, store.DayKey(now, s.loc)); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Cancel(ctx context.Context, ticketNumber string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients
		SET status = 'cancelled'
		WHERE ticket_number = $1 AND status = ANY($2)
	`, ticketNumber, store.AllowedSources("cancel"))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Stats(ctx context.Context, rng store.Range) (store.Stats, error) {
	now := time.Now().UTC()
	query := `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'called' THEN 1 ELSE 0 END),
			AVG(CASE WHEN called_at IS NOT NULL THEN EXTRACT(EPOCH FROM (called_at - created_at)) / 60.0 END)
		FROM clients
	`
	var args []interface{}
	if lower, bounded := rng.LowerBound(now, s.loc); bounded {
		query += " WHERE created_at >= $1"
		args = append(args, lower)
	}

	var result store.Stats
	var called sql.NullInt64
	var avgWait sql.NullFloat64
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&result.TotalClients, &called, &avgWait); err != nil {
		return store.Stats{}, err
	}
	if called.Valid {
		result.TotalCalled = called.Int64
	}
	if avgWait.Valid {
		result.AvgWaitMinutes = &avgWait.Float64
	}
	return result, nil
}

func (s *Store) History(ctx context.Context, rng store.Range) ([]models.Client, error) {
	now := time.Now().UTC()
	query := `
		SELECT id, ticket_number, phone, status, created_at, called_at
		FROM clients
	`
	var args []interface{}
	if lower, bounded := rng.LowerBound(now, s.loc); bounded {
		query += " WHERE created_at >= $1"
		args = append(args, lower)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		if client.CalledAt != nil {
			waited := int64(client.CalledAt.Sub(client.CreatedAt).Minutes())
			client.WaitMinutes = &waited
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) Hourly(ctx context.Context, rng store.Range) ([]store.HourlyCount, error) {
	now := time.Now().UTC()
	query := `
		SELECT EXTRACT(HOUR FROM created_at AT TIME ZONE $1)::int AS hour, COUNT(*)
		FROM clients
	`
	args := []interface{}{s.loc.String()}
	if lower, bounded := rng.LowerBound(now, s.loc); bounded {
		query += " WHERE created_at >= $2"
		args = append(args, lower)
	}
	query += " GROUP BY hour ORDER BY hour"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []store.HourlyCount
	for rows.Next() {
		var count store.HourlyCount
		if err := rows.Scan(&count.Hour, &count.Count); err != nil {
			return nil, err
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) LogSMS(ctx context.Context, entry store.SMSLog) error {
	sentAt := entry.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sms_logs (client_id, phone, message, provider_id, status, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ClientID, entry.Phone, entry.Message, nullIfEmpty(entry.ProviderID), entry.Status, nullIfEmpty(entry.Error), sentAt)
	return err
}

func (s *Store) ListSMSLogs(ctx context.Context, limit int) ([]store.SMSLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_id, phone, message, provider_id, status, error_message, sent_at
		FROM sms_logs
		ORDER BY sent_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.SMSLog
	for rows.Next() {
		var entry store.SMSLog
		var providerID sql.NullString
		var errText sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ClientID, &entry.Phone, &entry.Message, &providerID, &entry.Status, &errText, &entry.SentAt); err != nil {
			return nil, err
		}
		if providerID.Valid {
			entry.ProviderID = providerID.String
		}
		if errText.Valid {
			entry.Error = errText.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// defaultRetentionDays matches the SEQUENCE_RETENTION_DAYS config default.
const defaultRetentionDays = 30

// PruneSequences removes sequence rows older than the retention window so
// the table does not grow without bound. Today's row is never touched.
func (s *Store) PruneSequences(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM ticket_sequences
		WHERE day < $1
	`, retentionCutoff(time.Now().UTC(), retentionDays, s.loc))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func retentionCutoff(now time.Time, retentionDays int, loc *time.Location) string {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return store.DayKey(now.AddDate(0, 0, -retentionDays), loc)
}

// nextTicketNumber increments the per-day counter row transactionally.
// The upsert-returning form makes numbering atomic under concurrent joins,
// unlike a count-then-insert which can hand out duplicates.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, day string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (day, next_number)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func scanClient(rows pgx.Rows) (models.Client, error) {
	var client models.Client
	var calledAt sql.NullTime
	if err := rows.Scan(&client.ID, &client.TicketNumber, &client.Phone, &client.Status, &client.CreatedAt, &calledAt); err != nil {
		return models.Client{}, err
	}
	client.CalledAt = nullTimePtr(calledAt)
	return client, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

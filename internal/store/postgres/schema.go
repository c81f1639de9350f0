package postgres

import "context"

// The layout is small enough that idempotent DDL at boot beats a migration
// chain: one client table, the per-day sequence counter, and the SMS audit
// trail.
const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id BIGSERIAL PRIMARY KEY,
	ticket_number TEXT NOT NULL,
	phone TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'waiting',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	called_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_clients_status_created ON clients (status, created_at);
CREATE INDEX IF NOT EXISTS idx_clients_ticket_number ON clients (ticket_number);

CREATE TABLE IF NOT EXISTS ticket_sequences (
	day DATE PRIMARY KEY,
	next_number BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sms_logs (
	id BIGSERIAL PRIMARY KEY,
	client_id BIGINT NOT NULL,
	phone TEXT NOT NULL,
	message TEXT NOT NULL,
	provider_id TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sms_logs_sent_at ON sms_logs (sent_at);
`

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

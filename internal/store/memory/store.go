package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"marchemo/queue-service/internal/models"
	"marchemo/queue-service/internal/store"
)

// Store keeps the whole ledger in process memory behind a mutex. It mirrors
// the Postgres implementation operation for operation, so it can stand in
// for it in tests and in single-node deployments without a database.
type Store struct {
	mu        sync.Mutex
	loc       *time.Location
	now       func() time.Time
	nextID    int64
	clients   []*models.Client
	sequences map[string]int64
	nextLogID int64
	smsLogs   []store.SMSLog
}

func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:       loc,
		now:       func() time.Time { return time.Now().UTC() },
		sequences: make(map[string]int64),
	}
}

func (s *Store) Join(ctx context.Context, phone string) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	day := store.DayKey(now, s.loc)
	s.sequences[day]++
	label := store.TicketLabel(s.sequences[day])

	// Free the label if a record from a previous day still holds it.
	dayStart, _ := store.DayWindow(now, s.loc)
	for _, existing := range s.clients {
		if existing.TicketNumber == label && existing.CreatedAt.Before(dayStart) {
			existing.TicketNumber = strconv.FormatInt(existing.ID, 10)
		}
	}

	s.nextID++
	client := &models.Client{
		ID:           s.nextID,
		TicketNumber: label,
		Phone:        phone,
		Status:       models.StatusWaiting,
		CreatedAt:    now,
	}
	s.clients = append(s.clients, client)
	return copyClient(client), nil
}

func (s *Store) Queue(ctx context.Context) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	var clients []models.Client
	for _, client := range s.sortedByCreated() {
		if client.Status != models.StatusWaiting {
			continue
		}
		if client.CreatedAt.Before(dayStart) || !client.CreatedAt.Before(dayEnd) {
			continue
		}
		out := copyClient(client)
		waited := int64(now.Sub(client.CreatedAt).Minutes())
		out.WaitMinutes = &waited
		clients = append(clients, out)
	}
	return clients, nil
}

func (s *Store) CallNext(ctx context.Context) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	for _, client := range s.sortedByCreated() {
		if !store.ValidTransition("call_next", client.Status) {
			continue
		}
		if client.CreatedAt.Before(dayStart) || !client.CreatedAt.Before(dayEnd) {
			continue
		}
		client.Status = models.StatusCalled
		calledAt := now
		client.CalledAt = &calledAt
		return copyClient(client), nil
	}
	return models.Client{}, store.ErrQueueEmpty
}

func (s *Store) Reset(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	for _, client := range s.clients {
		if store.ValidTransition("reset", client.Status) {
			client.Status = models.StatusCancelled
			affected++
		}
	}
	return affected, nil
}

func (s *Store) HardResetToday(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dayStart, dayEnd := store.DayWindow(now, s.loc)

	var kept []*models.Client
	var deleted int64
	for _, client := range s.clients {
		if !client.CreatedAt.Before(dayStart) && client.CreatedAt.Before(dayEnd) {
			deleted++
			continue
		}
		kept = append(kept, client)
	}
	s.clients = kept
	delete(s.sequences, store.DayKey(now, s.loc))
	return deleted, nil
}

func (s *Store) Cancel(ctx context.Context, ticketNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, client := range s.clients {
		if client.TicketNumber == ticketNumber && store.ValidTransition("cancel", client.Status) {
			client.Status = models.StatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Stats(ctx context.Context, rng store.Range) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lower, bounded := rng.LowerBound(now, s.loc)

	var result store.Stats
	var waitSum float64
	var waitCount int64
	for _, client := range s.clients {
		if bounded && client.CreatedAt.Before(lower) {
			continue
		}
		result.TotalClients++
		if client.Status == models.StatusCalled {
			result.TotalCalled++
		}
		if client.CalledAt != nil {
			waitSum += client.CalledAt.Sub(client.CreatedAt).Minutes()
			waitCount++
		}
	}
	if waitCount > 0 {
		avg := waitSum / float64(waitCount)
		result.AvgWaitMinutes = &avg
	}
	return result, nil
}

func (s *Store) History(ctx context.Context, rng store.Range) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lower, bounded := rng.LowerBound(now, s.loc)

	var clients []models.Client
	for _, client := range s.sortedByCreated() {
		if bounded && client.CreatedAt.Before(lower) {
			continue
		}
		out := copyClient(client)
		if client.CalledAt != nil {
			waited := int64(client.CalledAt.Sub(client.CreatedAt).Minutes())
			out.WaitMinutes = &waited
		}
		clients = append(clients, out)
	}
	// Newest first.
	for i, j := 0, len(clients)-1; i < j; i, j = i+1, j-1 {
		clients[i], clients[j] = clients[j], clients[i]
	}
	return clients, nil
}

func (s *Store) Hourly(ctx context.Context, rng store.Range) ([]store.HourlyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	lower, bounded := rng.LowerBound(now, s.loc)

	byHour := make(map[int]int64)
	for _, client := range s.clients {
		if bounded && client.CreatedAt.Before(lower) {
			continue
		}
		byHour[client.CreatedAt.In(s.loc).Hour()]++
	}

	var counts []store.HourlyCount
	for hour, count := range byHour {
		counts = append(counts, store.HourlyCount{Hour: hour, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Hour < counts[j].Hour })
	return counts, nil
}

func (s *Store) LogSMS(ctx context.Context, entry store.SMSLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.SentAt.IsZero() {
		entry.SentAt = s.now()
	}
	s.smsLogs = append(s.smsLogs, entry)
	return nil
}

func (s *Store) ListSMSLogs(ctx context.Context, limit int) ([]store.SMSLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var entries []store.SMSLog
	for i := len(s.smsLogs) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, s.smsLogs[i])
	}
	return entries, nil
}

func (s *Store) sortedByCreated() []*models.Client {
	sorted := make([]*models.Client, len(s.clients))
	copy(sorted, s.clients)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

func copyClient(client *models.Client) models.Client {
	out := *client
	if client.CalledAt != nil {
		calledAt := *client.CalledAt
		out.CalledAt = &calledAt
	}
	out.WaitMinutes = nil
	return out
}

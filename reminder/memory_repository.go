package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/remindlab/remind/core"
)

// =============================================================================
// InMemoryRepository - For Testing
// =============================================================================

// InMemoryRepository implements Repository in memory. It mirrors the Redis
// implementation's version-check semantics so service and scheduler tests
// exercise the same concurrency contract.
type InMemoryRepository struct {
	mu           sync.Mutex
	records      map[string]*Reminder
	ackDeadlines map[string]time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records:      make(map[string]*Reminder),
		ackDeadlines: make(map[string]time.Time),
	}
}

// Create stores a new reminder.
func (s *InMemoryRepository) Create(ctx context.Context, r *Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; ok {
		return fmt.Errorf("reminder %s: %w", r.ID, ErrDuplicateID)
	}
	record := r.Clone()
	record.Version = 1
	s.records[r.ID] = record
	r.Version = 1
	return nil
}

// GetByID returns a clone of the stored record.
func (s *InMemoryRepository) GetByID(ctx context.Context, id string) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return record.Clone(), nil
}

// Update applies the same version check as the Redis implementation.
func (s *InMemoryRepository) Update(ctx context.Context, r *Reminder, ackDeadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[r.ID]
	if !ok {
		return &NotFoundError{ID: r.ID}
	}
	if stored.Version != r.Version {
		return fmt.Errorf("reminder %s version %d superseded by %d: %w",
			r.ID, r.Version, stored.Version, core.ErrCommitConflict)
	}

	record := r.Clone()
	record.Version = r.Version + 1
	s.records[r.ID] = record

	if ackDeadline.IsZero() {
		delete(s.ackDeadlines, r.ID)
	} else {
		s.ackDeadlines[r.ID] = ackDeadline.UTC()
	}

	r.Version = record.Version
	return nil
}

// Delete removes the record and index entries.
func (s *InMemoryRepository) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(s.records, id)
	delete(s.ackDeadlines, id)
	return nil
}

// DueReminders returns pending reminders due at or before now, ascending.
func (s *InMemoryRepository) DueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Reminder
	for _, record := range s.records {
		if record.Status == StatusPending && !record.ScheduledTime.After(now) {
			due = append(due, record.Clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledTime.Equal(due[j].ScheduledTime) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledTime.Before(due[j].ScheduledTime)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// DeliveredWithEscalation returns SENT reminders past their ack deadline.
func (s *InMemoryRepository) DeliveredWithEscalation(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type entry struct {
		r        *Reminder
		deadline time.Time
	}
	var elapsed []entry
	for id, deadline := range s.ackDeadlines {
		if deadline.After(now) {
			continue
		}
		record, ok := s.records[id]
		if !ok {
			delete(s.ackDeadlines, id)
			continue
		}
		if record.Status != StatusSent || record.Escalation == nil || !record.Escalation.IsActive {
			continue
		}
		elapsed = append(elapsed, entry{r: record.Clone(), deadline: deadline})
	}
	sort.Slice(elapsed, func(i, j int) bool {
		if elapsed[i].deadline.Equal(elapsed[j].deadline) {
			return elapsed[i].r.ID < elapsed[j].r.ID
		}
		return elapsed[i].deadline.Before(elapsed[j].deadline)
	})
	if limit > 0 && len(elapsed) > limit {
		elapsed = elapsed[:limit]
	}
	result := make([]*Reminder, len(elapsed))
	for i, e := range elapsed {
		result[i] = e.r
	}
	return result, nil
}

// List returns a sorted page plus the total match count.
func (s *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Reminder, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Reminder
	for _, record := range s.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		matched = append(matched, record.Clone())
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*Reminder{}, total, nil
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

// Flush removes everything.
func (s *InMemoryRepository) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Reminder)
	s.ackDeadlines = make(map[string]time.Time)
	return nil
}

// AckDeadline exposes the index entry for assertions in tests.
func (s *InMemoryRepository) AckDeadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.ackDeadlines[id]
	return deadline, ok
}

// Compile-time interface compliance check
var _ Repository = (*InMemoryRepository)(nil)

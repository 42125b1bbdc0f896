package reminder

import (
	"context"
	"time"
)

// Repository provides typed, version-checked CRUD over reminders.
//
// Every write is an atomic commit covering the primary record and all
// affected secondary indexes (by scheduled time, by status, by ack deadline),
// so indexes are consistent with the primary record at every commit boundary.
// Update commits are rejected with core.ErrCommitConflict when the record
// version advanced since the caller's read; the caller re-reads and retries.
//
// The by-time index holds exactly the PENDING reminders keyed by scheduled
// time. The ack-deadline index holds the SENT reminders with an active
// escalation rule, keyed by their answer deadline.
type Repository interface {
	// Create persists a new reminder and its index entries. Rejects a
	// duplicate id with ErrDuplicateID.
	Create(ctx context.Context, r *Reminder) error

	// GetByID returns the latest committed record, or *NotFoundError.
	GetByID(ctx context.Context, id string) (*Reminder, error)

	// Update persists r, which must carry the Version observed at read time.
	// ackDeadline controls the ack-deadline index entry for this record: a
	// zero time clears it, a non-zero time sets it. The by-time and by-status
	// indexes are recomputed from the record in the same commit.
	Update(ctx context.Context, r *Reminder, ackDeadline time.Time) error

	// Delete removes the primary record and every index entry atomically.
	// Deleting a missing id returns *NotFoundError.
	Delete(ctx context.Context, id string) error

	// DueReminders returns PENDING reminders with scheduledTime <= now in
	// ascending scheduled-time order, at most limit (0 means no cap).
	DueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)

	// DeliveredWithEscalation returns SENT reminders whose ack deadline has
	// elapsed, in ascending deadline order.
	DeliveredWithEscalation(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)

	// List returns a page of reminders matching the filter plus the total
	// match count.
	List(ctx context.Context, filter ListFilter) ([]*Reminder, int, error)

	// Flush removes every reminder and all indexes. Admin destructive.
	Flush(ctx context.Context) error
}

// ListFilter selects and pages reminders.
type ListFilter struct {
	// Status filters to a single status when non-empty.
	Status Status
	Limit  int
	Offset int
}

// MutateFunc is applied to a freshly read record inside a read-modify-write
// cycle. Returning an error aborts the cycle without writing.
type MutateFunc func(*Reminder) error

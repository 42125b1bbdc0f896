package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/telemetry"
)

// =============================================================================
// RedisRepository - Reference Implementation
// =============================================================================
//
// RedisRepository implements Repository using Redis.
//
// Key layout:
//   - Primary:       {prefix}:reminder:{id}          JSON record
//   - All ids:       {prefix}:reminders              Redis Set
//   - By time:       {prefix}:idx:by_time            ZSET score = scheduled ms
//   - By status:     {prefix}:idx:status:{status}    Redis Set
//   - Ack deadline:  {prefix}:idx:ack_deadline       ZSET score = deadline ms
//
// Atomic multi-key commits use WATCH on the primary key plus a MULTI/EXEC
// pipeline: the commit applies every index mutation with the record write or
// none of them, and fails with core.ErrCommitConflict if the watched record
// changed after the caller's read (the record Version is compared as well, so
// a write based on a stale read loses even across connections).
//
// =============================================================================

// RedisRepository implements Repository using Redis.
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
	logger    core.Logger
}

// RedisRepositoryOption configures the repository.
type RedisRepositoryOption func(*RedisRepository)

// WithRepositoryKeyPrefix sets the key namespace. Default "remind".
func WithRepositoryKeyPrefix(prefix string) RedisRepositoryOption {
	return func(r *RedisRepository) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// WithRepositoryLogger sets the logger. Defaults to NoOp.
func WithRepositoryLogger(logger core.Logger) RedisRepositoryOption {
	return func(r *RedisRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedisRepository creates a Redis-backed repository on an existing client.
// Returns concrete type per Go idiom "return structs, accept interfaces".
func NewRedisRepository(client *redis.Client, opts ...RedisRepositoryOption) *RedisRepository {
	r := &RedisRepository{
		client:    client,
		keyPrefix: "remind",
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// -----------------------------------------------------------------------------
// Key helpers
// -----------------------------------------------------------------------------

func (s *RedisRepository) primaryKey(id string) string {
	return fmt.Sprintf("%s:reminder:%s", s.keyPrefix, id)
}

func (s *RedisRepository) allKey() string {
	return fmt.Sprintf("%s:reminders", s.keyPrefix)
}

func (s *RedisRepository) byTimeKey() string {
	return fmt.Sprintf("%s:idx:by_time", s.keyPrefix)
}

func (s *RedisRepository) ackDeadlineKey() string {
	return fmt.Sprintf("%s:idx:ack_deadline", s.keyPrefix)
}

func (s *RedisRepository) statusKey(status Status) string {
	return fmt.Sprintf("%s:idx:status:%s", s.keyPrefix, status)
}

func scoreOf(t time.Time) float64 {
	return float64(t.UTC().UnixMilli())
}

// storeErr wraps a raw Redis failure so callers can classify the outage
// with errors.Is(err, core.ErrStoreUnavailable) and core.IsRetryable.
func storeErr(op, id string, err error) error {
	return &core.OpError{
		Op:   op,
		Kind: "store",
		ID:   id,
		Err:  fmt.Errorf("%w: %v (check REDIS_URL and Redis connectivity)", core.ErrStoreUnavailable, err),
	}
}

// -----------------------------------------------------------------------------
// Repository implementation
// -----------------------------------------------------------------------------

// Create persists a new reminder and all index entries atomically.
func (s *RedisRepository) Create(ctx context.Context, r *Reminder) error {
	key := s.primaryKey(r.ID)

	record := r.Clone()
	record.Version = 1

	data, err := json.Marshal(record)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return fmt.Errorf("failed to marshal reminder %s: %w", r.ID, err)
	}

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("reminder %s: %w", r.ID, ErrDuplicateID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.allKey(), record.ID)
			pipe.SAdd(ctx, s.statusKey(record.Status), record.ID)
			if record.Status == StatusPending {
				pipe.ZAdd(ctx, s.byTimeKey(), &redis.Z{Score: scoreOf(record.ScheduledTime), Member: record.ID})
			}
			return nil
		})
		return err
	}, key)

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return fmt.Errorf("create of %s raced another writer: %w", r.ID, core.ErrCommitConflict)
		}
		if errors.Is(txErr, ErrDuplicateID) {
			return txErr
		}
		telemetry.RecordSpanError(ctx, txErr)
		return storeErr("repository.Create", r.ID, txErr)
	}

	r.Version = record.Version

	telemetry.AddSpanEvent(ctx, "reminder.created",
		attribute.String("reminder_id", r.ID),
		attribute.String("status", string(r.Status)),
	)
	s.logger.Debug("Reminder created", map[string]interface{}{
		"operation":   "repository_create",
		"reminder_id": r.ID,
	})
	return nil
}

// GetByID returns the latest committed record.
func (s *RedisRepository) GetByID(ctx context.Context, id string) (*Reminder, error) {
	data, err := s.client.Get(ctx, s.primaryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return nil, storeErr("repository.GetByID", id, err)
	}

	var r Reminder
	if err := json.Unmarshal(data, &r); err != nil {
		telemetry.RecordSpanError(ctx, err)
		return nil, fmt.Errorf("failed to unmarshal reminder %s: %w (record may be corrupted)", id, err)
	}
	return &r, nil
}

// Update persists r with a version check and recomputes every affected index
// in the same atomic commit.
func (s *RedisRepository) Update(ctx context.Context, r *Reminder, ackDeadline time.Time) error {
	key := s.primaryKey(r.ID)

	record := r.Clone()
	record.Version = r.Version + 1

	data, err := json.Marshal(record)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return fmt.Errorf("failed to marshal reminder %s: %w", r.ID, err)
	}

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return &NotFoundError{ID: r.ID}
		}
		if err != nil {
			return err
		}

		var old Reminder
		if err := json.Unmarshal(stored, &old); err != nil {
			return fmt.Errorf("failed to unmarshal stored reminder %s: %w", r.ID, err)
		}
		if old.Version != r.Version {
			return fmt.Errorf("reminder %s version %d superseded by %d: %w",
				r.ID, r.Version, old.Version, core.ErrCommitConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			if old.Status != record.Status {
				pipe.SRem(ctx, s.statusKey(old.Status), record.ID)
				pipe.SAdd(ctx, s.statusKey(record.Status), record.ID)
			}

			// By-time index holds exactly the pending reminders.
			if record.Status == StatusPending {
				pipe.ZAdd(ctx, s.byTimeKey(), &redis.Z{Score: scoreOf(record.ScheduledTime), Member: record.ID})
			} else {
				pipe.ZRem(ctx, s.byTimeKey(), record.ID)
			}

			if ackDeadline.IsZero() {
				pipe.ZRem(ctx, s.ackDeadlineKey(), record.ID)
			} else {
				pipe.ZAdd(ctx, s.ackDeadlineKey(), &redis.Z{Score: scoreOf(ackDeadline), Member: record.ID})
			}
			return nil
		})
		return err
	}, key)

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return fmt.Errorf("update of %s raced another writer: %w", r.ID, core.ErrCommitConflict)
		}
		if IsNotFound(txErr) || errors.Is(txErr, core.ErrCommitConflict) {
			return txErr
		}
		telemetry.RecordSpanError(ctx, txErr)
		return storeErr("repository.Update", r.ID, txErr)
	}

	r.Version = record.Version

	telemetry.AddSpanEvent(ctx, "reminder.updated",
		attribute.String("reminder_id", r.ID),
		attribute.String("status", string(r.Status)),
		attribute.Int64("version", record.Version),
	)
	return nil
}

// Delete removes the primary record and every index entry atomically.
func (s *RedisRepository) Delete(ctx context.Context, id string) error {
	key := s.primaryKey(id)

	txErr := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		var old Reminder
		if err := json.Unmarshal(stored, &old); err != nil {
			return fmt.Errorf("failed to unmarshal stored reminder %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.allKey(), id)
			pipe.SRem(ctx, s.statusKey(old.Status), id)
			pipe.ZRem(ctx, s.byTimeKey(), id)
			pipe.ZRem(ctx, s.ackDeadlineKey(), id)
			return nil
		})
		return err
	}, key)

	if txErr != nil {
		if errors.Is(txErr, redis.TxFailedErr) {
			return fmt.Errorf("delete of %s raced another writer: %w", id, core.ErrCommitConflict)
		}
		if IsNotFound(txErr) {
			return txErr
		}
		telemetry.RecordSpanError(ctx, txErr)
		return storeErr("repository.Delete", id, txErr)
	}

	telemetry.AddSpanEvent(ctx, "reminder.deleted", attribute.String("reminder_id", id))
	s.logger.Debug("Reminder deleted", map[string]interface{}{
		"operation":   "repository_delete",
		"reminder_id": id,
	})
	return nil
}

// DueReminders returns PENDING reminders with scheduledTime <= now in
// ascending order.
func (s *RedisRepository) DueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	return s.scanIndex(ctx, s.byTimeKey(), now, limit, func(r *Reminder) bool {
		return r.Status == StatusPending
	})
}

// DeliveredWithEscalation returns SENT reminders whose ack deadline elapsed.
func (s *RedisRepository) DeliveredWithEscalation(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	return s.scanIndex(ctx, s.ackDeadlineKey(), now, limit, func(r *Reminder) bool {
		return r.Status == StatusSent && r.Escalation != nil && r.Escalation.IsActive
	})
}

// scanIndex range-scans a time-ordered ZSET up to now and resolves ids to
// records, dropping (and repairing) entries whose record no longer matches.
func (s *RedisRepository) scanIndex(ctx context.Context, indexKey string, now time.Time, limit int, keep func(*Reminder) bool) ([]*Reminder, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UTC().UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}

	ids, err := s.client.ZRangeByScore(ctx, indexKey, rangeBy).Result()
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return nil, storeErr("repository.Scan", "", fmt.Errorf("index %s: %w", indexKey, err))
	}

	result := make([]*Reminder, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetByID(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				// Dangling entry from an out-of-band deletion.
				s.client.ZRem(ctx, indexKey, id)
				continue
			}
			s.logger.Warn("Failed to resolve index entry", map[string]interface{}{
				"operation":   "repository_scan",
				"index":       indexKey,
				"reminder_id": id,
				"error":       err.Error(),
			})
			continue
		}
		if !keep(r) {
			continue
		}
		result = append(result, r)
	}
	return result, nil
}

// List returns a page of reminders matching the filter plus the total count.
func (s *RedisRepository) List(ctx context.Context, filter ListFilter) ([]*Reminder, int, error) {
	setKey := s.allKey()
	if filter.Status != "" {
		setKey = s.statusKey(filter.Status)
	}

	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return nil, 0, storeErr("repository.List", "", err)
	}
	sort.Strings(ids)
	total := len(ids)

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

	result := make([]*Reminder, 0, end-start)
	for _, id := range ids[start:end] {
		r, err := s.GetByID(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				s.client.SRem(ctx, setKey, id)
				continue
			}
			return nil, 0, err
		}
		result = append(result, r)
	}
	return result, total, nil
}

// Flush removes every reminder and all indexes.
func (s *RedisRepository) Flush(ctx context.Context) error {
	ids, err := s.client.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return storeErr("repository.Flush", "", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.primaryKey(id))
		}
		pipe.Del(ctx, s.allKey())
		pipe.Del(ctx, s.byTimeKey())
		pipe.Del(ctx, s.ackDeadlineKey())
		for _, status := range AllStatuses {
			pipe.Del(ctx, s.statusKey(status))
		}
		return nil
	})
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return storeErr("repository.Flush", "", err)
	}

	s.logger.Warn("All reminders flushed", map[string]interface{}{
		"operation": "repository_flush",
		"count":     len(ids),
	})
	return nil
}

// Ping reports store connectivity for the health endpoint.
func (s *RedisRepository) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (s *RedisRepository) Close() error {
	return s.client.Close()
}

// Compile-time interface compliance check
var _ Repository = (*RedisRepository)(nil)

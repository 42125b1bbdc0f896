package reminder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remindlab/remind/core"
)

func newTestRedisRepository(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRepository(client, WithRepositoryKeyPrefix("test")), mr
}

func testReminder(id string, scheduled time.Time) *Reminder {
	now := scheduled.Add(-time.Hour)
	return &Reminder{
		ID:            id,
		Content:       "rotate the backups",
		TargetUserID:  testTarget,
		ScheduledTime: scheduled,
		CreatedBy:     testAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
		Status:        StatusPending,
	}
}

func TestRedisRepositoryCreateAndGet(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := testReminder("r1", scheduled)
	require.NoError(t, repo.Create(ctx, r))
	assert.Equal(t, int64(1), r.Version)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "rotate the backups", got.Content)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.ScheduledTime.Equal(scheduled))

	// Index entries exist alongside the record.
	assert.True(t, mr.Exists("test:reminder:r1"))
	ids, err := mr.SMembers("test:reminders")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids)
	members, err := mr.ZMembers("test:idx:by_time")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, members)
	statusIDs, err := mr.SMembers("test:idx:status:PENDING")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, statusIDs)
}

func TestRedisRepositoryCreateDuplicate(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	ctx := context.Background()
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testReminder("r1", scheduled)))
	err := repo.Create(ctx, testReminder("r1", scheduled))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestRedisRepositoryGetMissing(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	_, err := repo.GetByID(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestRedisRepositoryUpdateMovesIndexes(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := testReminder("r1", scheduled)
	require.NoError(t, repo.Create(ctx, r))

	r.Status = StatusSent
	deadline := scheduled.Add(30 * time.Minute)
	require.NoError(t, repo.Update(ctx, r, deadline))
	assert.Equal(t, int64(2), r.Version)

	// SENT left the by-time index and joined its status set.
	members, _ := mr.ZMembers("test:idx:by_time")
	assert.Empty(t, members)
	sentIDs, err := mr.SMembers("test:idx:status:SENT")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, sentIDs)
	pendingIDs, _ := mr.SMembers("test:idx:status:PENDING")
	assert.Empty(t, pendingIDs)

	// The ack deadline entry carries the given instant.
	score, err := mr.ZScore("test:idx:ack_deadline", "r1")
	require.NoError(t, err)
	assert.Equal(t, float64(deadline.UnixMilli()), score)

	// Clearing the deadline removes the entry.
	r.Status = StatusAcknowledged
	require.NoError(t, repo.Update(ctx, r, time.Time{}))
	deadlines, _ := mr.ZMembers("test:idx:ack_deadline")
	assert.Empty(t, deadlines)
}

func TestRedisRepositoryVersionConflict(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	ctx := context.Background()
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := testReminder("r1", scheduled)
	require.NoError(t, repo.Create(ctx, r))

	// Two readers take the same version; the second write must lose.
	first, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)

	first.Content = "first writer wins"
	require.NoError(t, repo.Update(ctx, first, time.Time{}))

	second.Content = "second writer loses"
	err = repo.Update(ctx, second, time.Time{})
	assert.True(t, core.IsCommitConflict(err), "expected commit conflict, got %v", err)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "first writer wins", got.Content)
	assert.Equal(t, int64(2), got.Version)
}

func TestRedisRepositoryUpdateMissing(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	r := testReminder("ghost", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	r.Version = 1
	err := repo.Update(context.Background(), r, time.Time{})
	assert.True(t, IsNotFound(err))
}

func TestRedisRepositoryDelete(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	scheduled := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := testReminder("r1", scheduled)
	require.NoError(t, repo.Create(ctx, r))
	require.NoError(t, repo.Delete(ctx, "r1"))

	assert.False(t, mr.Exists("test:reminder:r1"))
	ids, _ := mr.SMembers("test:reminders")
	assert.Empty(t, ids)
	members, _ := mr.ZMembers("test:idx:by_time")
	assert.Empty(t, members)

	assert.True(t, IsNotFound(repo.Delete(ctx, "r1")))
}

func TestRedisRepositoryDueReminders(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Three pending across the boundary plus one already sent.
	require.NoError(t, repo.Create(ctx, testReminder("early", base.Add(-10*time.Minute))))
	require.NoError(t, repo.Create(ctx, testReminder("ontime", base)))
	require.NoError(t, repo.Create(ctx, testReminder("late", base.Add(10*time.Minute))))
	sent := testReminder("sent", base.Add(-20*time.Minute))
	require.NoError(t, repo.Create(ctx, sent))
	sent.Status = StatusSent
	require.NoError(t, repo.Update(ctx, sent, time.Time{}))

	due, err := repo.DueReminders(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	// Ascending by scheduled time.
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "ontime", due[1].ID)

	// Limit truncates from the front of the window.
	due, err = repo.DueReminders(ctx, base, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "early", due[0].ID)
}

func TestRedisRepositoryDeliveredWithEscalation(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := testReminder("r1", base.Add(-time.Hour))
	r.Escalation = &EscalationRule{
		SecondaryUserID:   testSecondary,
		TimeoutMinutes:    30,
		TriggerConditions: []TriggerCondition{TriggerTimeout},
		IsActive:          true,
	}
	require.NoError(t, repo.Create(ctx, r))
	r.Status = StatusSent
	require.NoError(t, repo.Update(ctx, r, base.Add(-time.Minute)))

	overdue, err := repo.DeliveredWithEscalation(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "r1", overdue[0].ID)

	// A future deadline stays out of the scan.
	r.Version = overdue[0].Version
	require.NoError(t, repo.Update(ctx, r, base.Add(time.Hour)))
	overdue, err = repo.DeliveredWithEscalation(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestRedisRepositoryList(t *testing.T) {
	repo, _ := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, testReminder(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	done := testReminder("done", base)
	require.NoError(t, repo.Create(ctx, done))
	done.Status = StatusCancelled
	require.NoError(t, repo.Update(ctx, done, time.Time{}))

	all, total, err := repo.List(ctx, ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, all, 6)

	pending, total, err := repo.List(ctx, ListFilter{Status: StatusPending, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, pending, 5)

	page, total, err := repo.List(ctx, ListFilter{Status: StatusPending, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	empty, total, err := repo.List(ctx, ListFilter{Status: StatusFailed, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, empty)
}

func TestRedisRepositoryFlush(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testReminder("r1", base)))
	require.NoError(t, repo.Create(ctx, testReminder("r2", base)))
	require.NoError(t, repo.Flush(ctx))

	_, total, err := repo.List(ctx, ListFilter{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.False(t, mr.Exists("test:reminder:r1"))
	assert.False(t, mr.Exists("test:reminders"))
}

func TestRedisRepositorySelfRepairsDanglingIndexEntry(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testReminder("r1", base)))

	// Simulate a record lost out from under its index entry.
	mr.Del("test:reminder:r1")

	due, err := repo.DueReminders(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// The dangling entry was pruned during the scan.
	members, _ := mr.ZMembers("test:idx:by_time")
	assert.Empty(t, members)
}

func TestRedisRepositoryClassifiesOutage(t *testing.T) {
	repo, mr := newTestRedisRepository(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testReminder("r1", base)))
	mr.Close()

	_, err := repo.GetByID(ctx, "r1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.True(t, core.IsRetryable(err))

	var opErr *core.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "repository.GetByID", opErr.Op)
	assert.Equal(t, "store", opErr.Kind)
	assert.Equal(t, "r1", opErr.ID)

	_, _, err = repo.List(ctx, ListFilter{Limit: 10})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)

	_, err = repo.DueReminders(ctx, base.Add(time.Minute), 10)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

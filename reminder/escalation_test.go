package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliverWithEscalation(t *testing.T, env *testEnv, mutators ...func(*CreateOptions)) *Reminder {
	t.Helper()
	mutators = append([]func(*CreateOptions){withEscalation(TriggerTimeout)}, mutators...)
	r := env.createReminder(t, mutators...)
	delivered, err := env.service.MarkAsDelivered(context.Background(), r.ID, "msg-1")
	require.NoError(t, err)
	return delivered
}

func TestEngineTimeoutEscalation(t *testing.T) {
	env := newTestEnv(t)
	r := deliverWithEscalation(t, env)

	// Before the deadline nothing fires.
	env.clock.Advance(29 * time.Minute)
	require.NoError(t, env.engine.Tick(context.Background()))
	assert.Zero(t, env.transport.escalationCount())

	env.clock.Advance(2 * time.Minute)
	require.NoError(t, env.engine.Tick(context.Background()))
	assert.Equal(t, 1, env.transport.escalationCount())

	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, stored.Status)
	assert.Equal(t, TriggerTimeout, stored.Escalation.TriggerReason)
	require.NotNil(t, stored.Escalation.TriggeredAt)

	// The deadline entry is consumed; a later tick must not re-fire.
	require.NoError(t, env.engine.Tick(context.Background()))
	assert.Equal(t, 1, env.transport.escalationCount())
}

func TestEngineDefaultTimeoutMessage(t *testing.T) {
	env := newTestEnv(t)
	deliverWithEscalation(t, env)

	env.clock.Advance(31 * time.Minute)
	require.NoError(t, env.engine.Tick(context.Background()))

	assert.Contains(t, env.transport.lastContent, "water the plants")
	assert.Contains(t, env.transport.lastContent, testTarget)
	assert.Contains(t, env.transport.lastContent, "30 minutes")
}

func TestEngineCustomTemplate(t *testing.T) {
	env := newTestEnv(t)
	deliverWithEscalation(t, env, func(o *CreateOptions) {
		o.Escalation.TimeoutMessage = "ALERT {targetUserId} ignored: {content} (due {scheduledTime})"
	})

	env.clock.Advance(31 * time.Minute)
	require.NoError(t, env.engine.Tick(context.Background()))

	assert.True(t, strings.HasPrefix(env.transport.lastContent, "ALERT "+testTarget))
	assert.Contains(t, env.transport.lastContent, "water the plants")
	assert.NotContains(t, env.transport.lastContent, "{scheduledTime}")
}

func TestEngineAnswerBeatsDeadline(t *testing.T) {
	env := newTestEnv(t)
	r := deliverWithEscalation(t, env)

	_, err := env.service.RecordResponse(context.Background(), r.ID, testTarget, ResponseAcknowledged)
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	require.NoError(t, env.engine.Tick(context.Background()))
	assert.Zero(t, env.transport.escalationCount())
}

func TestEngineTransportFailureBacksOff(t *testing.T) {
	env := newTestEnv(t)
	r := deliverWithEscalation(t, env)

	env.transport.setEscalationError(&TransportError{StatusCode: 503, Transient: true, Err: errors.New("unavailable")})
	env.clock.Advance(31 * time.Minute)
	require.NoError(t, env.engine.Tick(context.Background()))

	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
	assert.Equal(t, 1, stored.Escalation.FailedAttempts)
	assert.NotEmpty(t, stored.Escalation.LastError)

	// The deadline moved out by the escalation backoff (30s for attempt 1).
	deadline, ok := env.repo.AckDeadline(r.ID)
	require.True(t, ok)
	wantDeadline := env.clock.Now().Add(30 * time.Second)
	assert.True(t, deadline.Equal(wantDeadline), "got %v want %v", deadline, wantDeadline)

	// Heal and let the retry land.
	env.transport.setEscalationError(nil)
	env.clock.Advance(31 * time.Second)
	require.NoError(t, env.engine.Tick(context.Background()))

	stored, err = env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, stored.Status)
	assert.Zero(t, stored.Escalation.FailedAttempts)
}

func TestEngineExhaustedBudgetCoolsDown(t *testing.T) {
	env := newTestEnv(t)
	r := deliverWithEscalation(t, env)

	env.transport.setEscalationError(&TransportError{StatusCode: 500, Transient: true, Err: errors.New("boom")})
	env.clock.Advance(31 * time.Minute)

	for i := 0; i < 3; i++ {
		_ = env.engine.Tick(context.Background())
		deadline, ok := env.repo.AckDeadline(r.ID)
		require.True(t, ok)
		env.clock.Set(deadline.Add(time.Second))
	}

	// Third failure exhausted the budget: the reminder stays SENT and the
	// next attempt waits out the full cooldown.
	stored, err := env.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
	assert.Zero(t, stored.Escalation.FailedAttempts)
	assert.NotEmpty(t, stored.Escalation.LastError)
}

func TestEngineEscalateRejectsWrongState(t *testing.T) {
	env := newTestEnv(t)
	r := env.createReminder(t, withEscalation(TriggerTimeout))

	// Still PENDING: nothing was delivered, nothing to escalate.
	_, err := env.engine.Escalate(context.Background(), r.ID, TriggerTimeout)
	assert.True(t, IsConflict(err))
}

func TestEngineEscalateRequiresRule(t *testing.T) {
	env := newTestEnv(t)
	r := env.createReminder(t)
	_, err := env.service.MarkAsDelivered(context.Background(), r.ID, "msg-1")
	require.NoError(t, err)

	_, err = env.engine.Escalate(context.Background(), r.ID, TriggerTimeout)
	assert.True(t, IsConflict(err))
}

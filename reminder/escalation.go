package reminder

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/telemetry"
)

const (
	// escalationBatchSize caps how many overdue reminders one tick processes.
	escalationBatchSize = 100

	// escalationCooldown is how long a reminder rests after exhausting its
	// escalation attempt budget before the scan picks it up again.
	escalationCooldown = time.Hour
)

// Engine fires escalations: the periodic tick catches ack-deadline timeouts,
// and Escalate is invoked synchronously by the service on decline.
type Engine struct {
	service *Service
	policy  RetryPolicy
	logger  core.Logger
}

// EngineOption configures the escalation engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger. Defaults to NoOp.
func WithEngineLogger(logger core.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineRetryPolicy overrides the escalation retry policy.
func WithEngineRetryPolicy(policy RetryPolicy) EngineOption {
	return func(e *Engine) { e.policy = policy }
}

// NewEngine creates the escalation engine over the given service.
func NewEngine(service *Service, opts ...EngineOption) *Engine {
	e := &Engine{
		service: service,
		policy:  EscalationRetryPolicy(),
		logger:  &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tick processes one escalation pass over the ack-deadline index. Individual
// failures are absorbed so one unreachable secondary never stalls the batch.
func (e *Engine) Tick(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "escalation.tick")
	defer span.End()
	start := time.Now()

	now := e.service.Clock().Now()
	overdue, err := e.service.Repository().DeliveredWithEscalation(ctx, now, escalationBatchSize)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return err
	}
	if len(overdue) == 0 {
		return nil
	}

	e.logger.Debug("Escalating overdue reminders", map[string]interface{}{
		"operation": "escalation_tick",
		"count":     len(overdue),
	})

	for _, r := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := TriggerTimeout
		if r.Escalation != nil && r.Escalation.TriggerReason == TriggerDecline {
			// A decline escalation that failed its synchronous send is
			// retried here under its original reason.
			reason = TriggerDecline
		}
		if _, err := e.Escalate(ctx, r.ID, reason); err != nil {
			e.logger.Error("Escalation failed", map[string]interface{}{
				"operation":   "escalation_tick",
				"reminder_id": r.ID,
				"error":       err.Error(),
			})
		}
	}

	telemetry.Duration("escalation.tick.duration", start)
	return nil
}

// Escalate delivers the escalation message for a SENT reminder and commits
// the transition to ESCALATED. On transport failure the reminder stays SENT
// with the failure recorded on the rule and the next attempt pushed out by
// the escalation backoff.
func (e *Engine) Escalate(ctx context.Context, id string, reason TriggerCondition) (*Reminder, error) {
	svc := e.service
	r, err := svc.Repository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusSent {
		return nil, &ConflictError{ID: id, Status: r.Status, Err: ErrInvalidTransition}
	}
	if r.Escalation == nil || !r.Escalation.IsActive {
		return nil, &ConflictError{ID: id, Status: r.Status, Message: "no active escalation rule"}
	}
	if reason == TriggerTimeout && !r.Escalation.HasTrigger(TriggerTimeout) {
		return nil, &ConflictError{ID: id, Status: r.Status, Message: "escalation rule has no timeout trigger"}
	}

	telemetry.AddSpanEvent(ctx, "escalation.attempt",
		attribute.String("reminder_id", id),
		attribute.String("reason", string(reason)),
	)

	text := svc.escalationText(r, reason)
	messageID, sendErr := svc.transport.SendEscalation(ctx, r.Escalation.SecondaryUserID, text)
	if sendErr != nil {
		return nil, e.handleSendFailure(ctx, id, reason, sendErr)
	}

	var escalated *Reminder
	err = svc.mutate(ctx, id, func(rec *Reminder) error {
		if rec.Status != StatusSent || rec.Escalation == nil {
			// Answered while the escalation message was in flight. The human
			// response wins; the extra notification is harmless.
			escalated = rec
			return nil
		}
		now := svc.Clock().Now()
		rec.Status = StatusEscalated
		triggered := now
		rec.Escalation.TriggeredAt = &triggered
		rec.Escalation.TriggerReason = reason
		rec.Escalation.FailedAttempts = 0
		rec.Escalation.LastError = ""
		rec.UpdatedAt = now
		svc.appendResponse(rec, SystemActor, ResponseEscalated, messageID, map[string]string{
			"reason":            string(reason),
			"secondary_user_id": rec.Escalation.SecondaryUserID,
		})
		escalated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.Counter("reminder.escalated", "reason", string(reason))
	e.logger.Info("Reminder escalated", map[string]interface{}{
		"operation":         "escalation_escalate",
		"reminder_id":       id,
		"reason":            string(reason),
		"secondary_user_id": r.Escalation.SecondaryUserID,
	})
	return escalated.Clone(), nil
}

// handleSendFailure records the transport failure on the rule and pushes the
// ack deadline out so the scan reattempts after a backoff. After the attempt
// budget is spent the deadline moves out by a full cooldown instead.
func (e *Engine) handleSendFailure(ctx context.Context, id string, reason TriggerCondition, sendErr error) error {
	svc := e.service
	var delay time.Duration
	err := svc.mutateWithDeadline(ctx, id, func(rec *Reminder) error {
		if rec.Status != StatusSent || rec.Escalation == nil {
			return nil
		}
		now := svc.Clock().Now()
		rec.Escalation.FailedAttempts++
		rec.Escalation.LastError = sendErr.Error()
		if reason == TriggerDecline {
			// Mark the pending decline so the scan retries under the right
			// reason and message template.
			rec.Escalation.TriggerReason = TriggerDecline
		}
		rec.UpdatedAt = now

		if e.policy.Exhausted(rec.Escalation.FailedAttempts) {
			delay = escalationCooldown
			rec.Escalation.FailedAttempts = 0
		} else {
			delay = e.policy.Delay(rec.Escalation.FailedAttempts)
		}
		return nil
	}, func(rec *Reminder) time.Time {
		if rec.Status != StatusSent || rec.Escalation == nil {
			return ackDeadlineFor(rec)
		}
		return svc.Clock().Now().Add(delay)
	})
	if err != nil {
		return err
	}

	telemetry.Counter("reminder.escalation_failed")
	e.logger.Warn("Escalation delivery failed", map[string]interface{}{
		"operation":   "escalation_failure",
		"reminder_id": id,
		"reason":      string(reason),
		"retry_in":    delay.String(),
		"error":       sendErr.Error(),
	})
	return sendErr
}

package reminder

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/remindlab/remind/core"
	"github.com/remindlab/remind/telemetry"
)

const (
	// dispatchBatchSize caps how many due reminders one tick processes.
	dispatchBatchSize = 100

	// expiryGrace is how far past its retry-adjusted schedule a pending
	// reminder may drift before it is expired instead of dispatched.
	expiryGrace = 10 * time.Minute
)

// Dispatcher drives the delivery loop: each tick scans the by-time index for
// due PENDING reminders and pushes them through the transport.
type Dispatcher struct {
	service *Service
	logger  core.Logger
}

// NewDispatcher creates the dispatch loop worker.
func NewDispatcher(service *Service, logger core.Logger) *Dispatcher {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Dispatcher{service: service, logger: logger}
}

// Tick processes one dispatch pass. Errors on individual reminders are
// logged and absorbed so one bad record never stalls the batch.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.tick")
	defer span.End()
	start := time.Now()

	now := d.service.Clock().Now()
	due, err := d.service.Repository().DueReminders(ctx, now, dispatchBatchSize)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return err
	}
	if len(due) == 0 {
		return nil
	}

	d.logger.Debug("Dispatching due reminders", map[string]interface{}{
		"operation": "dispatch_tick",
		"count":     len(due),
	})

	for _, r := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.dispatchOne(ctx, r.ID); err != nil {
			d.logger.Error("Dispatch failed", map[string]interface{}{
				"operation":   "dispatch_tick",
				"reminder_id": r.ID,
				"error":       err.Error(),
			})
		}
	}

	telemetry.Duration("dispatch.tick.duration", start)
	return nil
}

// dispatchOne delivers a single reminder. It re-reads the record first so a
// concurrent cancel or edit between scan and send is respected.
func (d *Dispatcher) dispatchOne(ctx context.Context, id string) error {
	svc := d.service
	r, err := svc.Repository().GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	now := svc.Clock().Now()
	if r.Status != StatusPending || r.ScheduledTime.After(now) {
		// Raced with a cancel, edit or another dispatcher. Not ours anymore.
		return nil
	}

	if d.shouldExpire(r, now) {
		return d.expire(ctx, r)
	}

	telemetry.AddSpanEvent(ctx, "dispatch.attempt",
		attribute.String("reminder_id", r.ID),
		attribute.Int("attempt", r.DeliveryAttempts+1),
	)

	messageID, sendErr := svc.transport.SendReminder(ctx, r.TargetUserID, OutboundMessage{
		Content:    r.Content,
		ReminderID: r.ID,
	})
	if sendErr != nil {
		return d.handleSendFailure(ctx, r, sendErr)
	}

	delivered, err := svc.MarkAsDelivered(ctx, r.ID, messageID)
	if err != nil {
		if IsConflict(err) {
			// Delivered but the commit lost a race; the message is out, the
			// next scan skips it because the record left PENDING.
			d.logger.Warn("Delivery commit conflicted after send", map[string]interface{}{
				"operation":   "dispatch_one",
				"reminder_id": r.ID,
			})
			return nil
		}
		return err
	}

	if _, err := svc.ScheduleNextRepeat(ctx, delivered); err != nil {
		d.logger.Error("Failed to schedule next occurrence", map[string]interface{}{
			"operation":   "dispatch_one",
			"reminder_id": r.ID,
			"error":       err.Error(),
		})
	}
	return nil
}

// shouldExpire reports whether a due reminder missed its window: past the
// grace period with no retry budget left to explain the lateness.
func (d *Dispatcher) shouldExpire(r *Reminder, now time.Time) bool {
	if now.Sub(r.ScheduledTime) <= expiryGrace {
		return false
	}
	return r.DeliveryAttempts == 0 || d.service.RetryPolicy().Exhausted(r.DeliveryAttempts)
}

func (d *Dispatcher) expire(ctx context.Context, r *Reminder) error {
	err := d.service.mutate(ctx, r.ID, func(rec *Reminder) error {
		if rec.Status != StatusPending {
			return nil
		}
		now := d.service.Clock().Now()
		rec.Status = StatusExpired
		rec.UpdatedAt = now
		d.service.appendResponse(rec, SystemActor, ResponseFailedDelivery, "", map[string]string{
			"reason": "expired",
		})
		return nil
	})
	if err != nil {
		return err
	}
	telemetry.Counter("reminder.expired")
	d.logger.Warn("Reminder expired unsent", map[string]interface{}{
		"operation":      "dispatch_expire",
		"reminder_id":    r.ID,
		"scheduled_time": r.ScheduledTime.Format(time.RFC3339),
	})
	return nil
}

// handleSendFailure applies the retry policy: transient failures reschedule
// with exponential backoff by rewriting the scheduled time, permanent
// failures and exhausted budgets transition to FAILED.
func (d *Dispatcher) handleSendFailure(ctx context.Context, r *Reminder, sendErr error) error {
	svc := d.service
	policy := svc.RetryPolicy()
	transient := IsTransientTransport(sendErr)

	return svc.mutate(ctx, r.ID, func(rec *Reminder) error {
		if rec.Status != StatusPending {
			return nil
		}
		now := svc.Clock().Now()
		rec.DeliveryAttempts++
		rec.LastDeliveryAttempt = &now
		rec.LastError = sendErr.Error()
		rec.UpdatedAt = now
		svc.appendResponse(rec, SystemActor, ResponseFailedDelivery, "", map[string]string{
			"error":   sendErr.Error(),
			"attempt": strconv.Itoa(rec.DeliveryAttempts),
		})

		if !transient || policy.Exhausted(rec.DeliveryAttempts) {
			rec.Status = StatusFailed
			telemetry.Counter("reminder.failed", "transient", boolLabel(transient))
			d.logger.Error("Reminder delivery failed permanently", map[string]interface{}{
				"operation":   "dispatch_failure",
				"reminder_id": rec.ID,
				"attempts":    rec.DeliveryAttempts,
				"error":       sendErr.Error(),
			})
			return nil
		}

		next := policy.NextRetry(now, rec.DeliveryAttempts, TransportRetryAfter(sendErr))
		rec.ScheduledTime = next
		telemetry.Counter("reminder.retry_scheduled")
		d.logger.Warn("Reminder delivery failed, retry scheduled", map[string]interface{}{
			"operation":   "dispatch_failure",
			"reminder_id": rec.ID,
			"attempts":    rec.DeliveryAttempts,
			"next_retry":  next.Format(time.RFC3339),
			"error":       sendErr.Error(),
		})
		return nil
	})
}

package reminder

import (
	"regexp"
	"time"
	"unicode/utf8"
)

const (
	// MaxContentLength is the content cap in Unicode code points.
	MaxContentLength = 2000

	// MaxScheduleAhead is how far in the future a reminder may be scheduled.
	MaxScheduleAhead = 365 * 24 * time.Hour

	// MinTimeoutMinutes and MaxTimeoutMinutes bound the escalation answer
	// window (one minute to one week).
	MinTimeoutMinutes = 1
	MaxTimeoutMinutes = 10080
)

// snowflakeRe matches the external chat platform's user id form.
var snowflakeRe = regexp.MustCompile(`^\d{17,19}$`)

// IsSnowflake reports whether s is a well-formed platform user id.
func IsSnowflake(s string) bool {
	return snowflakeRe.MatchString(s)
}

// ValidateContent checks the reminder text bounds.
func ValidateContent(content string) error {
	if content == "" {
		return &ValidationError{Field: "content", Message: "must not be empty"}
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return &ValidationError{Field: "content", Message: "exceeds 2000 code points"}
	}
	return nil
}

// ValidateTargetUser checks the recipient id format.
func ValidateTargetUser(userID string) error {
	if !IsSnowflake(userID) {
		return &ValidationError{Field: "target_user_id", Message: "must be 17-19 decimal digits"}
	}
	return nil
}

// ValidateScheduledTime checks that t lies in (now, now + 1 year].
func ValidateScheduledTime(t, now time.Time) error {
	if !t.After(now) {
		return &ValidationError{Field: "scheduled_time", Message: "must be in the future"}
	}
	if t.Sub(now) > MaxScheduleAhead {
		return &ValidationError{Field: "scheduled_time", Message: "must be within one year"}
	}
	return nil
}

// ValidateTimezone checks that tz resolves to an IANA zone. Empty is allowed
// and means UTC.
func ValidateTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return &ValidationError{Field: "timezone", Message: "unknown IANA zone"}
	}
	return nil
}

// ValidateEscalation checks an escalation rule against the target user.
func ValidateEscalation(rule *EscalationRule, targetUserID string) error {
	if rule == nil {
		return nil
	}
	if !IsSnowflake(rule.SecondaryUserID) {
		return &ValidationError{Field: "escalation.secondary_user_id", Message: "must be 17-19 decimal digits"}
	}
	if rule.SecondaryUserID == targetUserID {
		return &ValidationError{Field: "escalation.secondary_user_id", Message: "must differ from target user"}
	}
	if rule.TimeoutMinutes < MinTimeoutMinutes || rule.TimeoutMinutes > MaxTimeoutMinutes {
		return &ValidationError{Field: "escalation.timeout_minutes", Message: "must be between 1 and 10080"}
	}
	if len(rule.TriggerConditions) == 0 {
		return &ValidationError{Field: "escalation.trigger_conditions", Message: "at least one trigger required"}
	}
	for _, c := range rule.TriggerConditions {
		if c != TriggerTimeout && c != TriggerDecline {
			return &ValidationError{Field: "escalation.trigger_conditions", Message: "must be timeout or decline"}
		}
	}
	if utf8.RuneCountInString(rule.TimeoutMessage) > MaxContentLength {
		return &ValidationError{Field: "escalation.timeout_message", Message: "exceeds 2000 code points"}
	}
	if utf8.RuneCountInString(rule.DeclineMessage) > MaxContentLength {
		return &ValidationError{Field: "escalation.decline_message", Message: "exceeds 2000 code points"}
	}
	return nil
}

// ValidateRepeatRule checks a repeat rule's cadence and end condition.
func ValidateRepeatRule(rule *RepeatRule) error {
	if rule == nil {
		return nil
	}
	switch rule.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return &ValidationError{Field: "repeat_rule.frequency", Message: "must be daily, weekly, monthly or yearly"}
	}
	if rule.Interval < 1 {
		return &ValidationError{Field: "repeat_rule.interval", Message: "must be at least 1"}
	}
	switch rule.EndCondition {
	case EndNever:
	case EndDate:
		if rule.EndDate == nil {
			return &ValidationError{Field: "repeat_rule.end_date", Message: "required for date end condition"}
		}
	case EndCount:
		if rule.MaxOccurrences < 1 {
			return &ValidationError{Field: "repeat_rule.max_occurrences", Message: "must be at least 1"}
		}
	default:
		return &ValidationError{Field: "repeat_rule.end_condition", Message: "must be never, date or count"}
	}
	return nil
}

// ValidateReminder runs the full field validation set against a reminder as
// of now. Used at create/update time and by the validation test type.
func ValidateReminder(r *Reminder, now time.Time) []error {
	var issues []error
	if err := ValidateContent(r.Content); err != nil {
		issues = append(issues, err)
	}
	if err := ValidateTargetUser(r.TargetUserID); err != nil {
		issues = append(issues, err)
	}
	if err := ValidateTimezone(r.Timezone); err != nil {
		issues = append(issues, err)
	}
	if err := ValidateEscalation(r.Escalation, r.TargetUserID); err != nil {
		issues = append(issues, err)
	}
	if err := ValidateRepeatRule(r.RepeatRule); err != nil {
		issues = append(issues, err)
	}
	if !r.Status.IsValid() {
		issues = append(issues, &ValidationError{Field: "status", Message: "unknown status"})
	}
	// Audit logs must stay in append order.
	for i := 1; i < len(r.Responses); i++ {
		if r.Responses[i].Timestamp.Before(r.Responses[i-1].Timestamp) {
			issues = append(issues, &ValidationError{Field: "responses", Message: "log entries out of order"})
			break
		}
	}
	for i := 1; i < len(r.TestExecutions); i++ {
		if r.TestExecutions[i].ExecutedAt.Before(r.TestExecutions[i-1].ExecutedAt) {
			issues = append(issues, &ValidationError{Field: "test_executions", Message: "log entries out of order"})
			break
		}
	}
	return issues
}

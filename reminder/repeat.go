package reminder

import (
	"time"
)

// NextOccurrence advances t by interval × frequency. Monthly and yearly
// cadences use calendar arithmetic, so Jan 31 + 1 month normalizes per
// time.AddDate.
func NextOccurrence(frequency Frequency, interval int, t time.Time) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, interval)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*interval)
	case FrequencyMonthly:
		return t.AddDate(0, interval, 0)
	case FrequencyYearly:
		return t.AddDate(interval, 0, 0)
	}
	return t
}

// nextRepeat computes the follow-up occurrence for a completed one.
// It returns the next scheduled instant, or ok=false when the series has
// reached its end condition and the rule should go inactive.
func nextRepeat(rule *RepeatRule) (next time.Time, ok bool) {
	if rule == nil || !rule.IsActive {
		return time.Time{}, false
	}

	candidate := NextOccurrence(rule.Frequency, rule.Interval, rule.NextScheduledTime)

	switch rule.EndCondition {
	case EndCount:
		// CurrentOccurrence counts the occurrence just completed.
		if rule.CurrentOccurrence >= rule.MaxOccurrences {
			return time.Time{}, false
		}
	case EndDate:
		if rule.EndDate != nil && !candidate.Before(*rule.EndDate) {
			return time.Time{}, false
		}
	}
	return candidate, true
}

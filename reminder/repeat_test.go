package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOccurrence(t *testing.T) {
	base := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		frequency Frequency
		interval  int
		want      time.Time
	}{
		{"daily", FrequencyDaily, 1, time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)},
		{"every third day", FrequencyDaily, 3, time.Date(2025, 1, 18, 9, 0, 0, 0, time.UTC)},
		{"weekly", FrequencyWeekly, 1, time.Date(2025, 1, 22, 9, 0, 0, 0, time.UTC)},
		{"biweekly", FrequencyWeekly, 2, time.Date(2025, 1, 29, 9, 0, 0, 0, time.UTC)},
		{"monthly", FrequencyMonthly, 1, time.Date(2025, 2, 15, 9, 0, 0, 0, time.UTC)},
		{"yearly", FrequencyYearly, 1, time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.frequency, tt.interval, base)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestNextOccurrenceMonthEndNormalizes(t *testing.T) {
	// Jan 31 + 1 month lands in early March per calendar arithmetic.
	jan31 := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	got := NextOccurrence(FrequencyMonthly, 1, jan31)
	assert.True(t, got.Equal(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)))
}

func TestNextRepeatEndConditions(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("never keeps going", func(t *testing.T) {
		rule := &RepeatRule{
			Frequency: FrequencyDaily, Interval: 1, EndCondition: EndNever,
			CurrentOccurrence: 100, NextScheduledTime: base, IsActive: true,
		}
		next, ok := nextRepeat(rule)
		require.True(t, ok)
		assert.True(t, next.Equal(base.AddDate(0, 0, 1)))
	})

	t.Run("count stops at max", func(t *testing.T) {
		rule := &RepeatRule{
			Frequency: FrequencyWeekly, Interval: 1, EndCondition: EndCount,
			MaxOccurrences: 3, CurrentOccurrence: 2, NextScheduledTime: base, IsActive: true,
		}
		_, ok := nextRepeat(rule)
		assert.True(t, ok, "occurrence 2 of 3 still continues")

		rule.CurrentOccurrence = 3
		_, ok = nextRepeat(rule)
		assert.False(t, ok, "occurrence 3 of 3 is the last")
	})

	t.Run("date stops at boundary", func(t *testing.T) {
		end := base.AddDate(0, 0, 7)
		rule := &RepeatRule{
			Frequency: FrequencyDaily, Interval: 1, EndCondition: EndDate,
			EndDate: &end, NextScheduledTime: base.AddDate(0, 0, 5), IsActive: true,
		}
		_, ok := nextRepeat(rule)
		assert.True(t, ok, "candidate one day before the end date continues")

		rule.NextScheduledTime = base.AddDate(0, 0, 6)
		_, ok = nextRepeat(rule)
		assert.False(t, ok, "candidate on the end date stops")
	})

	t.Run("inactive rule never repeats", func(t *testing.T) {
		rule := &RepeatRule{
			Frequency: FrequencyDaily, Interval: 1, EndCondition: EndNever,
			NextScheduledTime: base, IsActive: false,
		}
		_, ok := nextRepeat(rule)
		assert.False(t, ok)
	})
}

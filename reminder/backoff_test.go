package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 480 * time.Second},
		{6, 15 * time.Minute}, // capped
		{10, 15 * time.Minute},
		{0, 30 * time.Second}, // clamped up
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyNextRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, p.NextRetry(now, 1, 0).Equal(now.Add(30*time.Second)))

	// A larger advertised retry-after wins over the computed backoff.
	assert.True(t, p.NextRetry(now, 1, 5*time.Minute).Equal(now.Add(5*time.Minute)))

	// A smaller one does not shorten the backoff.
	assert.True(t, p.NextRetry(now, 3, time.Second).Equal(now.Add(120*time.Second)))
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
	assert.True(t, p.Exhausted(6))

	esc := EscalationRetryPolicy()
	assert.False(t, esc.Exhausted(2))
	assert.True(t, esc.Exhausted(3))
}

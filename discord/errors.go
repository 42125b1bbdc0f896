package discord

import (
	"fmt"
	"net/http"
	"time"

	"github.com/remindlab/remind/reminder"
)

// classifyStatus maps an HTTP failure onto the transport error taxonomy:
// 429 is rate-limited with its advertised wait, 5xx and 408 are transient,
// everything else 4xx is permanent.
func classifyStatus(status int, body *apiError, err error) error {
	te := &reminder.TransportError{StatusCode: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		te.RateLimited = true
		te.Transient = true
		if body != nil && body.RetryAfter > 0 {
			te.RetryAfter = time.Duration(body.RetryAfter * float64(time.Second))
		}
	case status >= 500 || status == http.StatusRequestTimeout:
		te.Transient = true
	}
	return te
}

// networkError wraps a connection-level failure as transient.
func networkError(op string, err error) error {
	return &reminder.TransportError{
		Transient: true,
		Err:       fmt.Errorf("%s: %w", op, err),
	}
}

package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/remindlab/remind/reminder"
)

// MockTransport is an in-memory Transport for tests and local development.
// It records every send and can be programmed to fail.
type MockTransport struct {
	mu sync.Mutex

	// Err, when set, is returned by every send until cleared.
	Err error
	// EscalationErr overrides Err for SendEscalation when set.
	EscalationErr error

	reminders   []SentReminder
	escalations []SentEscalation
	nextID      int
}

// SentReminder records one SendReminder call.
type SentReminder struct {
	UserID    string
	Message   reminder.OutboundMessage
	MessageID string
}

// SentEscalation records one SendEscalation call.
type SentEscalation struct {
	UserID    string
	Content   string
	MessageID string
}

// NewMockTransport creates an empty mock.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// SendReminder implements reminder.Transport.
func (m *MockTransport) SendReminder(ctx context.Context, userID string, msg reminder.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.nextID++
	id := fmt.Sprintf("mock-msg-%d", m.nextID)
	m.reminders = append(m.reminders, SentReminder{UserID: userID, Message: msg, MessageID: id})
	return id, nil
}

// SendEscalation implements reminder.Transport.
func (m *MockTransport) SendEscalation(ctx context.Context, userID string, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EscalationErr != nil {
		return "", m.EscalationErr
	}
	if m.Err != nil {
		return "", m.Err
	}
	m.nextID++
	id := fmt.Sprintf("mock-esc-%d", m.nextID)
	m.escalations = append(m.escalations, SentEscalation{UserID: userID, Content: content, MessageID: id})
	return id, nil
}

// SetError programs every subsequent send to fail with err. Nil clears it.
func (m *MockTransport) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// SetEscalationError programs SendEscalation to fail with err. Nil clears it.
func (m *MockTransport) SetEscalationError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EscalationErr = err
}

// Reminders returns a copy of the recorded reminder sends.
func (m *MockTransport) Reminders() []SentReminder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentReminder(nil), m.reminders...)
}

// Escalations returns a copy of the recorded escalation sends.
func (m *MockTransport) Escalations() []SentEscalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEscalation(nil), m.escalations...)
}

var _ reminder.Transport = (*MockTransport)(nil)

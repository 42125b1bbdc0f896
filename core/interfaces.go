package core

import (
	"time"
)

// Logger interface - minimal logging interface shared by every component.
// Components accept a Logger via options and default to NoOpLogger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Clock is the time source for schedule arithmetic. The scheduler, escalation
// engine and service never call time.Now directly so tests can inject a fake.
type Clock interface {
	Now() time.Time
}

// RealClock returns the wall clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	Current time.Time
}

// NewFakeClock creates a fake clock starting at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{Current: t.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.Current }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }

// Set pins the fake clock to t.
func (c *FakeClock) Set(t time.Time) { c.Current = t.UTC() }

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// Compile-time interface compliance checks
var (
	_ Logger = (*NoOpLogger)(nil)
	_ Clock  = RealClock{}
	_ Clock  = (*FakeClock)(nil)
)

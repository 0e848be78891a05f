// Package history keeps an audit trail of action invocations.
package history

import (
	"context"
	"time"
)

// DefaultLimit and MaxLimit bound List page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Entry is one recorded invocation outcome.
type Entry struct {
	ID           string        `json:"id"`
	InvocationID string        `json:"invocationId"`
	SubjectID    string        `json:"subjectId,omitempty"`
	ActionID     string        `json:"actionId"`
	CardID       string        `json:"cardId,omitempty"`
	State        string        `json:"state"`
	Dispatch     string        `json:"dispatch"`
	Degraded     bool          `json:"degraded,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	MissingKeys  []string      `json:"missingKeys,omitempty"`
	Duration     time.Duration `json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// DurationMillis is the entry's duration for JSON clients.
func (e Entry) DurationMillis() int64 { return e.Duration.Milliseconds() }

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	SubjectID string
	ActionID  string
	Limit     int
}

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	}
	return f.Limit
}

// Store persists history entries.
type Store interface {
	// Append records an entry. ID and CreatedAt must be set.
	Append(ctx context.Context, e Entry) error

	// List returns matching entries, newest first.
	List(ctx context.Context, f Filter) ([]Entry, error)

	// Ping checks the backing storage is reachable.
	Ping(ctx context.Context) error
}

func millis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

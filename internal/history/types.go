package history

import (
	"context"
	"time"
)

// Record is the outcome of one finished call.
type Record struct {
	CallID    string    `json:"call_id"`
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	State     string    `json:"state"`
	Replies   []string  `json:"replies,omitempty"`
	Digits    []string  `json:"digits,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Store persists finished calls. Recent returns newest first; an empty
// target spans all targets.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, target string, limit int) ([]Record, error)
	Close() error
}

const defaultRecentLimit = 20

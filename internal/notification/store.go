// Package notification keeps the replayable set of persistent notifications
// and forwards every notification change to the hub.
package notification

import (
	"fmt"
	"slices"
	"sync"
)

type Action struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Notification struct {
	ID           string   `json:"id"`
	Target       string   `json:"target"`
	Title        string   `json:"title"`
	Icon         string   `json:"icon"`
	Text         string   `json:"text"`
	Actions      []Action `json:"actions"`
	Channel      string   `json:"channel,omitempty"`
	Priority     string   `json:"priority,omitempty"`
	IsPersistent bool     `json:"isPersistent"`
	IsSticky     bool     `json:"isSticky"`
}

// Notifier delivers notification commands to the hub.
type Notifier interface {
	Notify(n Notification) error
	UnNotify(target, id string) error
}

// Store is an in-process dedup/replay cache keyed by (Target, ID). Entries
// keep insertion order. Forwarding happens outside the store lock.
type Store struct {
	notifier Notifier

	mu      sync.Mutex
	entries []Notification
	onSize  func(int)
}

func NewStore(notifier Notifier) *Store {
	return &Store{notifier: notifier}
}

// SetSizeHook observes the number of stored entries after every change.
func (s *Store) SetSizeHook(fn func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSize = fn
	if fn != nil {
		fn(len(s.entries))
	}
}

// Send replaces any stored entry with the same key, keeps n only if it is
// persistent and always forwards it.
func (s *Store) Send(n Notification) error {
	n.Actions = slices.Clone(n.Actions)

	s.mu.Lock()
	s.removeLocked(n.Target, n.ID)
	if n.IsPersistent {
		s.entries = append(s.entries, n)
	}
	s.sizeChangedLocked()
	s.mu.Unlock()

	if err := s.notifier.Notify(n); err != nil {
		return fmt.Errorf("forward notify %s/%s: %w", n.Target, n.ID, err)
	}
	return nil
}

// Clear drops the stored entry, if any, and forwards unNotify regardless.
func (s *Store) Clear(target, id string) error {
	s.mu.Lock()
	s.removeLocked(target, id)
	s.sizeChangedLocked()
	s.mu.Unlock()

	if err := s.notifier.UnNotify(target, id); err != nil {
		return fmt.Errorf("forward unNotify %s/%s: %w", target, id, err)
	}
	return nil
}

// ResendIfExists forwards the stored entry verbatim. It is a no-op when the
// key is not stored.
func (s *Store) ResendIfExists(target, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(target, id)
	var n Notification
	if idx >= 0 {
		n = s.entries[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		return nil
	}
	if err := s.notifier.Notify(n); err != nil {
		return fmt.Errorf("forward notify %s/%s: %w", target, id, err)
	}
	return nil
}

// ResendAll forwards every stored entry for target in store order and stops
// at the first failure.
func (s *Store) ResendAll(target string) error {
	for _, n := range s.List(target) {
		if err := s.notifier.Notify(n); err != nil {
			return fmt.Errorf("forward notify %s/%s: %w", n.Target, n.ID, err)
		}
	}
	return nil
}

// List returns a snapshot of the entries stored for target. An empty target
// lists every entry.
func (s *Store) List(target string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.entries))
	for _, n := range s.entries {
		if target == "" || n.Target == target {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) removeLocked(target, id string) {
	s.entries = slices.DeleteFunc(s.entries, func(n Notification) bool {
		return n.Target == target && n.ID == id
	})
}

func (s *Store) indexLocked(target, id string) int {
	return slices.IndexFunc(s.entries, func(n Notification) bool {
		return n.Target == target && n.ID == id
	})
}

func (s *Store) sizeChangedLocked() {
	if s.onSize != nil {
		s.onSize(len(s.entries))
	}
}

package notification

import (
	"errors"
	"testing"
)

type sent struct {
	kind string
	n    Notification
}

type recordingNotifier struct {
	calls []sent
	err   error
}

func (r *recordingNotifier) Notify(n Notification) error {
	r.calls = append(r.calls, sent{kind: "notify", n: n})
	return r.err
}

func (r *recordingNotifier) UnNotify(target, id string) error {
	r.calls = append(r.calls, sent{kind: "unNotify", n: Notification{Target: target, ID: id}})
	return r.err
}

func persistent(target, id, title string) Notification {
	return Notification{ID: id, Target: target, Title: title, IsPersistent: true}
}

func TestSendForwardsRegardlessOfPersistence(t *testing.T) {
	rec := &recordingNotifier{}
	s := NewStore(rec)

	if err := s.Send(Notification{ID: "a", Target: "phone", Title: "once"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := s.Send(persistent("phone", "b", "kept")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(rec.calls) != 2 {
		t.Fatalf("forwarded = %d, want 2", len(rec.calls))
	}
	if got := s.List("phone"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("List() = %+v, want only b", got)
	}
}

func TestSendReplacesSameKey(t *testing.T) {
	rec := &recordingNotifier{}
	s := NewStore(rec)
	_ = s.Send(persistent("phone", "a", "first"))
	_ = s.Send(persistent("phone", "b", "other"))
	_ = s.Send(persistent("phone", "a", "second"))

	got := s.List("phone")
	if len(got) != 2 {
		t.Fatalf("List() len = %d, want 2", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" || got[1].Title != "second" {
		t.Fatalf("List() = %+v, want b then a(second)", got)
	}

	_ = s.Send(Notification{ID: "a", Target: "phone", Title: "volatile"})
	if got := s.List("phone"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("non-persistent send kept stale entry: %+v", got)
	}
}

func TestKeyIncludesTarget(t *testing.T) {
	s := NewStore(&recordingNotifier{})
	_ = s.Send(persistent("phone", "a", "p"))
	_ = s.Send(persistent("tablet", "a", "t"))
	_ = s.Clear("phone", "a")

	if got := s.List("tablet"); len(got) != 1 || got[0].Title != "t" {
		t.Fatalf("List(tablet) = %+v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestClearAlwaysForwards(t *testing.T) {
	rec := &recordingNotifier{}
	s := NewStore(rec)
	if err := s.Clear("phone", "missing"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0].kind != "unNotify" || rec.calls[0].n.ID != "missing" {
		t.Fatalf("forwarded = %+v, want one unNotify", rec.calls)
	}
}

func TestResendIfExists(t *testing.T) {
	rec := &recordingNotifier{}
	s := NewStore(rec)
	n := persistent("phone", "a", "kept")
	n.Actions = []Action{{ID: "1", Text: "ok"}}
	_ = s.Send(n)
	rec.calls = nil

	if err := s.ResendIfExists("phone", "nope"); err != nil {
		t.Fatalf("ResendIfExists() error = %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("missing key forwarded %d messages", len(rec.calls))
	}

	if err := s.ResendIfExists("phone", "a"); err != nil {
		t.Fatalf("ResendIfExists() error = %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0].n.Title != "kept" || len(rec.calls[0].n.Actions) != 1 {
		t.Fatalf("forwarded = %+v, want stored entry verbatim", rec.calls)
	}
}

func TestResendAllKeepsOrderAndClearRemoves(t *testing.T) {
	rec := &recordingNotifier{}
	s := NewStore(rec)
	_ = s.Send(persistent("phone", "a", "1"))
	_ = s.Send(persistent("tablet", "x", "t"))
	_ = s.Send(persistent("phone", "b", "2"))
	_ = s.Send(persistent("phone", "c", "3"))
	_ = s.Clear("phone", "b")
	rec.calls = nil

	if err := s.ResendAll("phone"); err != nil {
		t.Fatalf("ResendAll() error = %v", err)
	}
	var ids []string
	for _, c := range rec.calls {
		ids = append(ids, c.n.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Fatalf("resent ids = %v, want [a c]", ids)
	}
}

func TestForwardErrorsSurface(t *testing.T) {
	boom := errors.New("no hub")
	rec := &recordingNotifier{err: boom}
	s := NewStore(rec)

	if err := s.Send(persistent("phone", "a", "1")); !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want %v", err, boom)
	}
	if s.Len() != 1 {
		t.Fatalf("entry should be stored even when forwarding fails")
	}
	if err := s.Clear("phone", "a"); !errors.Is(err, boom) {
		t.Fatalf("Clear() error = %v, want %v", err, boom)
	}
	_ = s.Send(persistent("phone", "b", "2"))
	_ = s.Send(persistent("phone", "c", "3"))
	rec.calls = nil
	if err := s.ResendAll("phone"); !errors.Is(err, boom) {
		t.Fatalf("ResendAll() error = %v, want %v", err, boom)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("ResendAll() kept going after failure: %d forwards", len(rec.calls))
	}
}

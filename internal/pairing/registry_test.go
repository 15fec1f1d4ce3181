package pairing

import (
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/iris/internal/call"
)

type idleConn struct {
	closed chan struct{}
	once   sync.Once
}

func newIdleConn() *idleConn { return &idleConn{closed: make(chan struct{})} }

func (c *idleConn) ReadMessage() (call.MessageKind, []byte, error) {
	<-c.closed
	return 0, nil, io.EOF
}

func (c *idleConn) WriteMessage(call.MessageKind, []byte) error { return nil }

func (c *idleConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestExpectIssuesURLSafeTokens(t *testing.T) {
	r := NewRegistry(time.Minute)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, c, err := r.Expect(call.Options{})
		if err != nil {
			t.Fatalf("Expect() error = %v", err)
		}
		defer c.Hangup()
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			t.Fatalf("token %q is not raw url base64: %v", token, err)
		}
		if len(raw) != tokenBytes {
			t.Fatalf("token entropy = %d bytes, want %d", len(raw), tokenBytes)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
		if c.State() != call.StatePending {
			t.Fatalf("State() = %q, want pending", c.State())
		}
	}
	if got := r.Len(); got != 50 {
		t.Fatalf("Len() = %d, want 50", got)
	}
}

func TestRedeemConsumesToken(t *testing.T) {
	r := NewRegistry(time.Minute)
	token, c, err := r.Expect(call.Options{})
	if err != nil {
		t.Fatalf("Expect() error = %v", err)
	}
	if !r.Lookup(token) {
		t.Fatalf("Lookup() = false before redeem")
	}

	conn := newIdleConn()
	defer conn.Close()
	got, err := r.Redeem(token, conn)
	if err != nil {
		t.Fatalf("Redeem() error = %v", err)
	}
	if got != c {
		t.Fatalf("Redeem() returned a different call")
	}
	if r.Lookup(token) {
		t.Fatalf("Lookup() = true after redeem")
	}
	if _, err := r.Redeem(token, newIdleConn()); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("second Redeem() error = %v, want ErrUnknownToken", err)
	}
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	r := NewRegistry(time.Minute)
	token, _, err := r.Expect(call.Options{})
	if err != nil {
		t.Fatalf("Expect() error = %v", err)
	}

	var wins, unknown atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := newIdleConn()
			defer conn.Close()
			_, err := r.Redeem(token, conn)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrUnknownToken):
				unknown.Add(1)
			default:
				t.Errorf("Redeem() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || unknown.Load() != 15 {
		t.Fatalf("wins = %d, unknown = %d, want 1 and 15", wins.Load(), unknown.Load())
	}
}

func TestTimedOutCallDropsToken(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	expired := make(chan struct{})
	token, c, err := r.Expect(call.Options{OnExpire: func(*call.Call) { close(expired) }})
	if err != nil {
		t.Fatalf("Expect() error = %v", err)
	}

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatalf("pairing timeout never fired")
	}
	if r.Lookup(token) {
		t.Fatalf("Lookup() = true after timeout")
	}
	if _, err := r.Redeem(token, newIdleConn()); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("Redeem() after timeout error = %v, want ErrUnknownToken", err)
	}
	if c.State() != call.StateTimedOut {
		t.Fatalf("State() = %q, want timed-out", c.State())
	}
}

func TestCancelHangsUp(t *testing.T) {
	r := NewRegistry(time.Minute)
	var sizes []int
	r.SetSizeHook(func(n int) { sizes = append(sizes, n) })

	token, c, err := r.Expect(call.Options{})
	if err != nil {
		t.Fatalf("Expect() error = %v", err)
	}
	r.Cancel(token)
	r.Cancel(token)

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	if c.State() != call.StateEnded {
		t.Fatalf("State() = %q, want ended", c.State())
	}
	want := []int{0, 1, 0}
	if len(sizes) != len(want) {
		t.Fatalf("size hook calls = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("size hook calls = %v, want %v", sizes, want)
		}
	}
}

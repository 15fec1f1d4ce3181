package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/iris/internal/call"
)

const tokenBytes = 32

var ErrUnknownToken = errors.New("unknown pairing token")

// Registry maps single-use pairing tokens to calls waiting for their
// companion connection.
type Registry struct {
	mu             sync.Mutex
	pending        map[string]*call.Call
	pairingTimeout time.Duration
	onSize         func(int)
}

func NewRegistry(pairingTimeout time.Duration) *Registry {
	if pairingTimeout <= 0 {
		pairingTimeout = call.DefaultPairingTimeout
	}
	return &Registry{
		pending:        make(map[string]*call.Call),
		pairingTimeout: pairingTimeout,
	}
}

// SetSizeHook registers fn to observe the number of pending tokens after
// every change. fn runs with the registry locked and must not call back.
func (r *Registry) SetSizeHook(fn func(int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSize = fn
	if fn != nil {
		fn(len(r.pending))
	}
}

// Expect issues a token and the pending call it redeems. opts.PairingTimeout
// defaults to the registry timeout; opts.OnExpire still runs after the token
// has been dropped.
func (r *Registry) Expect(opts call.Options) (string, *call.Call, error) {
	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = r.pairingTimeout
	}
	userExpire := opts.OnExpire
	opts.OnExpire = func(c *call.Call) {
		r.remove(token, c)
		if userExpire != nil {
			userExpire(c)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := call.New(opts)
	r.pending[token] = c
	r.sizeChangedLocked()
	return token, c, nil
}

// Lookup reports whether token currently maps to a pending call.
func (r *Registry) Lookup(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[token]
	return ok
}

// Redeem attaches conn to the call behind token and consumes the token. The
// lookup, the attach and the delete happen under one lock, so of two
// concurrent redeemers exactly one wins. A failed attach keeps the token
// unless the call can no longer be paired at all.
func (r *Registry) Redeem(token string, conn call.Conn) (*call.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	if err := c.Attach(conn); err != nil {
		if errors.Is(err, call.ErrNotPending) {
			delete(r.pending, token)
			r.sizeChangedLocked()
		}
		return nil, fmt.Errorf("redeem token: %w", err)
	}
	delete(r.pending, token)
	r.sizeChangedLocked()
	return c, nil
}

// Cancel drops token and hangs up its call.
func (r *Registry) Cancel(token string) {
	r.mu.Lock()
	c, ok := r.pending[token]
	if ok {
		delete(r.pending, token)
		r.sizeChangedLocked()
	}
	r.mu.Unlock()

	if ok {
		c.Hangup()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) remove(token string, c *call.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[token] != c {
		return
	}
	delete(r.pending, token)
	r.sizeChangedLocked()
}

func (r *Registry) sizeChangedLocked() {
	if r.onSize != nil {
		r.onSize(len(r.pending))
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

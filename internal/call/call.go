package call

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a call.
type State string

const (
	StatePending        State = "pending"
	StateConnected      State = "connected"
	StateReceivingAudio State = "receiving-audio"
	StateEnded          State = "ended"
	StateRejected       State = "rejected"
	StateTimedOut       State = "timed-out"
	StateDisconnected   State = "disconnected"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateTimedOut, StateDisconnected:
		return true
	default:
		return false
	}
}

// DefaultPairingTimeout bounds how long a call waits for its companion.
const DefaultPairingTimeout = 5 * time.Minute

var (
	ErrNotAttached        = errors.New("cannot send: no connection attached")
	ErrAlreadyAttached    = errors.New("call already has a connection attached")
	ErrNotPending         = errors.New("call is no longer waiting for a connection")
	ErrInvalidFrame       = errors.New("invalid control frame")
	ErrBinaryOutsideAudio = errors.New("received binary data outside audio stream")
)

// Options configures a new call.
type Options struct {
	ID             string
	PairingTimeout time.Duration
	// OnExpire runs when the pairing window closes without an attach, before
	// the timeout event is emitted.
	OnExpire func(*Call)
}

// Outgoing is a message for the companion, built with Audio or End.
type Outgoing struct {
	audio []byte
	end   bool
}

// Audio plays pcm on the companion.
func Audio(pcm []byte) Outgoing { return Outgoing{audio: pcm} }

// End asks the companion to hang up.
func End() Outgoing { return Outgoing{end: true} }

// Call is one voice call session bound to at most one companion connection.
type Call struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	state     State
	conn      Conn
	timer     *time.Timer
	receiving bool
	audio     []byte
	handlers  map[EventKind]Handler
	onExpire  func(*Call)

	// sendMu keeps the frames of one Send contiguous on the wire.
	sendMu sync.Mutex
}

// New creates a pending call and starts its pairing timer.
func New(opts Options) *Call {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = DefaultPairingTimeout
	}
	c := &Call{
		id:        opts.ID,
		createdAt: time.Now().UTC(),
		state:     StatePending,
		handlers:  make(map[EventKind]Handler),
		onExpire:  opts.OnExpire,
	}
	c.mu.Lock()
	c.timer = time.AfterFunc(opts.PairingTimeout, c.expire)
	c.mu.Unlock()
	return c
}

func (c *Call) ID() string { return c.id }

func (c *Call) CreatedAt() time.Time { return c.createdAt }

func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attached reports whether a connection is currently bound.
func (c *Call) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Buffered returns the number of audio bytes accumulated since audioStart.
func (c *Call) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

// Attach binds conn to a pending call, stops the pairing timer and starts
// delivering the connection's frames. Events for one connection, starting
// with connected, are emitted serially from a single goroutine.
func (c *Call) Attach(conn Conn) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	if c.state != StatePending {
		c.mu.Unlock()
		return ErrNotPending
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Send writes msg to the attached connection.
func (c *Call) Send(msg Outgoing) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotAttached
	}

	if msg.end {
		if err := conn.WriteMessage(TextMessage, encodeCommand(CommandEnd)); err != nil {
			return fmt.Errorf("send end: %w", err)
		}
		c.transition(StateEnded)
		return nil
	}

	if err := conn.WriteMessage(TextMessage, encodeCommand(CommandAudioStart)); err != nil {
		return fmt.Errorf("send audio start: %w", err)
	}
	if err := conn.WriteMessage(BinaryMessage, msg.audio); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	if err := conn.WriteMessage(TextMessage, encodeCommand(CommandAudioEnd)); err != nil {
		return fmt.Errorf("send audio end: %w", err)
	}
	return nil
}

// Hangup stops a pending call from ever attaching, or closes the attached
// connection.
func (c *Call) Hangup() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == StatePending {
		c.state = StateEnded
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Call) expire() {
	c.mu.Lock()
	if c.state != StatePending || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.state = StateTimedOut
	c.timer = nil
	hook := c.onExpire
	c.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	c.emit(Event{Kind: EventTimeout})
}

func (c *Call) readLoop(conn Conn) {
	c.emit(Event{Kind: EventConnected})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.detach(conn)
			c.emit(Event{Kind: EventDisconnected, Err: err})
			return
		}
		switch kind {
		case BinaryMessage:
			c.handleBinary(data)
		case TextMessage:
			c.handleText(data)
		}
	}
}

func (c *Call) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.receiving = false
	c.audio = nil
	if !c.state.Terminal() {
		c.state = StateDisconnected
	}
}

func (c *Call) handleBinary(data []byte) {
	c.mu.Lock()
	if !c.receiving {
		c.mu.Unlock()
		c.emit(Event{Kind: EventError, Err: ErrBinaryOutsideAudio})
		return
	}
	c.audio = append(c.audio, data...)
	c.mu.Unlock()
}

func (c *Call) handleText(data []byte) {
	frame, err := parseInbound(data)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}

	switch frame.Action {
	case ActionAccepted:
		c.emit(Event{Kind: EventAccepted})
	case ActionRejected:
		c.transition(StateRejected)
		c.emit(Event{Kind: EventRejected})
	case ActionEnded:
		c.transition(StateEnded)
		c.emit(Event{Kind: EventEnded})
	case ActionDTMF:
		c.emit(Event{Kind: EventDTMF, Digit: frame.Payload.Digit})
	case ActionAudioStart:
		c.mu.Lock()
		c.receiving = true
		c.audio = nil
		if c.state == StateConnected {
			c.state = StateReceivingAudio
		}
		c.mu.Unlock()
	case ActionAudioEnd:
		c.mu.Lock()
		c.receiving = false
		pcm := c.audio
		c.audio = nil
		if c.state == StateReceivingAudio {
			c.state = StateConnected
		}
		c.mu.Unlock()
		if pcm == nil {
			pcm = []byte{}
		}
		c.emit(Event{Kind: EventAudio, Audio: pcm})
	}
}

func (c *Call) transition(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return
	}
	c.state = to
	c.receiving = false
	c.audio = nil
}

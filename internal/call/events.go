package call

// EventKind names an event emitted by a call.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventAccepted     EventKind = "accepted"
	EventRejected     EventKind = "rejected"
	EventEnded        EventKind = "ended"
	EventDTMF         EventKind = "dtmf"
	EventAudio        EventKind = "audio"
	EventError        EventKind = "error"
	EventTimeout      EventKind = "timeout"
	EventDisconnected EventKind = "disconnected"
)

// Event carries the payload of one emission. Audio is set for EventAudio,
// Digit for EventDTMF, Err for EventError and EventDisconnected.
type Event struct {
	Kind  EventKind
	Audio []byte
	Digit string
	Err   error
}

// Handler receives events of one kind.
type Handler func(Event)

// On registers h for kind. Each kind has a single slot: a later registration
// replaces the earlier one.
func (c *Call) On(kind EventKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, kind)
		return
	}
	c.handlers[kind] = h
}

// Off removes the handler registered for kind.
func (c *Call) Off(kind EventKind) {
	c.On(kind, nil)
}

func (c *Call) emit(ev Event) {
	c.mu.Lock()
	h := c.handlers[ev.Kind]
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

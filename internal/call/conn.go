package call

// MessageKind distinguishes text control frames from binary audio frames.
type MessageKind int

const (
	TextMessage MessageKind = iota + 1
	BinaryMessage
)

// Conn is a bidirectional message channel carrying control and audio frames.
// ReadMessage is only called from one goroutine; WriteMessage implementations
// must be safe for concurrent use.
type Conn interface {
	ReadMessage() (MessageKind, []byte, error)
	WriteMessage(kind MessageKind, data []byte) error
	Close() error
}

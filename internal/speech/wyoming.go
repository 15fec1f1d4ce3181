package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultTimeout is the idle timeout applied to every backend socket.
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes caps the bytes buffered for one backend response.
const DefaultMaxResponseBytes = 64 << 20

const (
	transcribeRate     = 16000
	transcribeWidth    = 2
	transcribeChannels = 1
	readChunkSize      = 4096
)

// WyomingConfig addresses the whisper (transcribe) and piper (synthesize)
// backends as host:port pairs.
type WyomingConfig struct {
	WhisperAddr string
	PiperAddr   string
	Timeout     time.Duration
	Framing     Framing
	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int
}

// WyomingClient speaks the newline-delimited JSON + raw payload protocol of
// wyoming speech servers. Every request uses its own socket.
type WyomingClient struct {
	cfg    WyomingConfig
	dialer net.Dialer
}

func NewWyomingClient(cfg WyomingConfig) *WyomingClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingMarker
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	return &WyomingClient{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.Timeout},
	}
}

type wyomingEvent struct {
	Type          string `json:"type"`
	Data          any    `json:"data,omitempty"`
	PayloadLength *int   `json:"payload_length,omitempty"`
}

type transcribeData struct {
	Language string `json:"language"`
}

type audioFormat struct {
	Rate     int `json:"rate"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

type synthesizeData struct {
	Text  string      `json:"text"`
	Voice *voiceQuery `json:"voice,omitempty"`
}

type voiceQuery struct {
	Language string `json:"language"`
}

func (c *WyomingClient) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	text, err := c.transcribe(ctx, pcm, language)
	if err != nil {
		return "", &TranscribeError{Err: err}
	}
	return text, nil
}

func (c *WyomingClient) transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	s, err := c.open(ctx, c.cfg.WhisperAddr)
	if err != nil {
		return "", err
	}
	defer s.close()

	n := len(pcm)
	if err := s.writeEvent(wyomingEvent{Type: "transcribe", Data: transcribeData{Language: language}}); err != nil {
		return "", err
	}
	if err := s.writeEvent(wyomingEvent{
		Type:          "audio-chunk",
		Data:          audioFormat{Rate: transcribeRate, Width: transcribeWidth, Channels: transcribeChannels},
		PayloadLength: &n,
	}); err != nil {
		return "", err
	}
	if err := s.write(pcm); err != nil {
		return "", err
	}
	if err := s.writeEvent(wyomingEvent{Type: "audio-stop"}); err != nil {
		return "", err
	}

	buf, err := s.readUntil(func(b []byte) bool {
		return bytes.Contains(b, []byte(transcriptMarker))
	})
	if err != nil {
		return "", err
	}
	return parseTranscript(buf)
}

func (c *WyomingClient) Synthesize(ctx context.Context, text, language string) (Synthesis, error) {
	out, err := c.synthesize(ctx, text, language)
	if err != nil {
		return Synthesis{}, &SynthesizeError{Err: err}
	}
	return out, nil
}

func (c *WyomingClient) synthesize(ctx context.Context, text, language string) (Synthesis, error) {
	s, err := c.open(ctx, c.cfg.PiperAddr)
	if err != nil {
		return Synthesis{}, err
	}
	defer s.close()

	data := synthesizeData{Text: text}
	if language != "" {
		data.Voice = &voiceQuery{Language: language}
	}
	if err := s.writeEvent(wyomingEvent{Type: "synthesize", Data: data}); err != nil {
		return Synthesis{}, err
	}

	buf, err := s.readUntil(synthesisDone(c.cfg.Framing))
	if err != nil {
		return Synthesis{}, err
	}
	return parseSynthesis(buf, c.cfg.Framing)
}

func (c *WyomingClient) open(ctx context.Context, addr string) (*backendSession, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &backendSession{
		ctx:     ctx,
		conn:    conn,
		timeout: c.cfg.Timeout,
		limit:   c.cfg.MaxResponseBytes,
		stop:    context.AfterFunc(ctx, func() { _ = conn.Close() }),
	}, nil
}

// backendSession owns one socket for the duration of one request.
type backendSession struct {
	ctx     context.Context
	conn    net.Conn
	timeout time.Duration
	limit   int
	stop    func() bool
}

func (s *backendSession) close() {
	s.stop()
	_ = s.conn.Close()
}

func (s *backendSession) writeEvent(ev wyomingEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.write(append(raw, '\n'))
}

func (s *backendSession) write(b []byte) error {
	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		return s.cause(err)
	}
	return nil
}

func (s *backendSession) readUntil(done func([]byte) bool) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, s.cause(err)
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if done(buf) {
				return buf, nil
			}
			if len(buf) > s.limit {
				return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidResult, s.limit)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoResult
			}
			return nil, s.cause(err)
		}
	}
}

// cause prefers the context error over the "use of closed connection" error
// produced when cancellation closes the socket.
func (s *backendSession) cause(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

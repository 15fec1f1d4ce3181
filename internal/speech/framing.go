package speech

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	transcriptMarker = `{"text": "`
	synthesisMarker  = `"audio-stop"`

	// Legacy chunk scan delimiters: a chunk header closes with a null payload
	// field and the next header opens with the type key.
	chunkHeaderEnd   = "null}"
	chunkHeaderStart = `{"type`
)

// Framing selects how the audio chunk stream of a synthesize response is split.
type Framing string

const (
	// FramingMarker recovers chunk boundaries by scanning for textual header
	// markers. PCM bytes that happen to contain a marker corrupt the result.
	FramingMarker Framing = "marker"
	// FramingLength walks the event stream using the declared data and payload
	// lengths of every header.
	FramingLength Framing = "length"
)

var errIncomplete = errors.New("synthesis stream incomplete")

// ParseFraming accepts "marker", "length" or empty (marker).
func ParseFraming(v string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", string(FramingMarker):
		return FramingMarker, nil
	case string(FramingLength):
		return FramingLength, nil
	default:
		return "", fmt.Errorf("unknown speech framing %q (expected marker|length)", v)
	}
}

type resultHeader struct {
	DataLength *int `json:"data_length"`
}

func parseDataLength(line []byte) (int, error) {
	var h resultHeader
	if err := json.Unmarshal(line, &h); err != nil {
		return 0, fmt.Errorf("decode header: %w", err)
	}
	if h.DataLength == nil {
		return 0, fmt.Errorf("%w: header has no data_length", ErrInvalidResult)
	}
	return *h.DataLength, nil
}

// parseTranscript decodes a whisper response: a header line declaring
// data_length followed by the transcript JSON.
func parseTranscript(buf []byte) (string, error) {
	lines := bytes.Split(buf, []byte("\n"))
	if len(lines) < 2 {
		return "", ErrInvalidResult
	}
	n, err := parseDataLength(lines[0])
	if err != nil {
		return "", err
	}
	payload := lines[1]
	n = max(0, min(n, len(payload)))

	var out struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(payload[:n], &out); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if out.Text == nil {
		return "", fmt.Errorf("%w: transcript has no text", ErrInvalidResult)
	}
	return *out.Text, nil
}

// parseSynthesis decodes a piper response: a header line, the audio info
// object and then the chunk stream handled by framing.
func parseSynthesis(buf []byte, framing Framing) (Synthesis, error) {
	nl := bytes.IndexByte(buf, '\n')
	if nl < 0 {
		return Synthesis{}, ErrInvalidResult
	}
	n, err := parseDataLength(buf[:nl])
	if err != nil {
		return Synthesis{}, err
	}
	start := nl + 1
	end := start + n
	if n < 0 || end > len(buf) {
		return Synthesis{}, fmt.Errorf("%w: audio info exceeds response", ErrInvalidResult)
	}

	var info struct {
		Rate     *int `json:"rate"`
		Channels *int `json:"channels"`
	}
	if err := json.Unmarshal(buf[start:end], &info); err != nil {
		return Synthesis{}, fmt.Errorf("decode audio info: %w", err)
	}
	if info.Rate == nil || info.Channels == nil {
		return Synthesis{}, fmt.Errorf("%w: audio info needs rate and channels", ErrInvalidResult)
	}

	var audio []byte
	switch framing {
	case FramingLength:
		audio, err = collectByLength(buf, end)
	default:
		audio = collectByMarker(buf, end)
	}
	if err != nil {
		return Synthesis{}, err
	}
	return Synthesis{Audio: audio, SampleRate: *info.Rate, Channels: *info.Channels}, nil
}

func collectByMarker(buf []byte, offset int) []byte {
	out := []byte{}
	start := indexFrom(buf, chunkHeaderEnd, offset)
	for start != -1 {
		start += len(chunkHeaderEnd)
		end := indexFrom(buf, chunkHeaderStart, start)
		if end == -1 {
			// An unterminated tail is taken without its final byte, same as
			// the scan deployed companions were built against.
			if start < len(buf)-1 {
				out = append(out, buf[start:len(buf)-1]...)
			}
			break
		}
		out = append(out, buf[start:end]...)
		start = indexFrom(buf, chunkHeaderEnd, end)
	}
	return out
}

type chunkEvent struct {
	Type          string `json:"type"`
	DataLength    *int   `json:"data_length"`
	PayloadLength *int   `json:"payload_length"`
}

func collectByLength(buf []byte, offset int) ([]byte, error) {
	out := []byte{}
	rest := buf[offset:]
	for {
		rest = bytes.TrimLeft(rest, "\n")
		if len(rest) == 0 {
			return nil, errIncomplete
		}
		nl := bytes.IndexByte(rest, '\n')
		line := rest
		if nl >= 0 {
			line = rest[:nl]
			rest = rest[nl+1:]
		} else {
			rest = nil
		}

		var ev chunkEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			if nl < 0 {
				return nil, errIncomplete
			}
			return nil, fmt.Errorf("decode chunk header: %w", err)
		}
		dataLen, payloadLen := derefLen(ev.DataLength), derefLen(ev.PayloadLength)
		if dataLen+payloadLen > len(rest) {
			return nil, errIncomplete
		}
		rest = rest[dataLen:]
		if ev.Type == "audio-chunk" {
			out = append(out, rest[:payloadLen]...)
		}
		rest = rest[payloadLen:]
		if ev.Type == "audio-stop" {
			return out, nil
		}
	}
}

// synthesisDone reports whether buf holds a complete synthesize response.
func synthesisDone(framing Framing) func([]byte) bool {
	return func(buf []byte) bool {
		if !bytes.Contains(buf, []byte(synthesisMarker)) {
			return false
		}
		if framing != FramingLength {
			return true
		}
		_, err := parseSynthesis(buf, framing)
		return !errors.Is(err, errIncomplete)
	}
}

func derefLen(p *int) int {
	if p == nil || *p < 0 {
		return 0
	}
	return *p
}

func indexFrom(buf []byte, sep string, from int) int {
	if from < 0 || from > len(buf) {
		return -1
	}
	i := bytes.Index(buf[from:], []byte(sep))
	if i < 0 {
		return -1
	}
	return from + i
}

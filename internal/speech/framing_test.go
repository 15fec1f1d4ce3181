package speech

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestParseTranscript(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"exact", "{\"data_length\": 17}\n{\"text\": \"hallo\"}", "hallo"},
		{"padded", "{\"data_length\": 17}\n{\"text\": \"hallo\"}{\"type\": \"x\"}", "hallo"},
		{"declared longer than payload", "{\"data_length\": 40}\n{\"text\": \"hallo\"}\n", "hallo"},
		{"header with type", "{\"type\": \"transcript\", \"data_length\": 23}\n{\"text\": \"goedemorgen\"}", "goedemorgen"},
	}
	for _, tc := range cases {
		got, err := parseTranscript([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: parseTranscript() error = %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: transcript = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestParseTranscriptRejectsBadShapes(t *testing.T) {
	cases := []string{
		`{"data_length": 17}`,
		"{\"length\": 17}\n{\"text\": \"hallo\"}",
		"{\"data_length\": 17}\n{\"words\": \"hallo\"}",
		"not json\n{\"text\": \"hallo\"}",
	}
	for _, raw := range cases {
		if _, err := parseTranscript([]byte(raw)); err == nil {
			t.Fatalf("parseTranscript(%q) error = nil, want error", raw)
		}
	}
}

func synthesisPrefix(rate, channels int) []byte {
	info := fmt.Sprintf(`{"rate": %d, "width": 2, "channels": %d}`, rate, channels)
	return []byte(fmt.Sprintf("{\"type\": \"audio-start\", \"data_length\": %d}\n%s", len(info), info))
}

func markerChunk(pcm []byte) []byte {
	return append([]byte(`{"type": "audio-chunk", "payload": null}`), pcm...)
}

func TestParseSynthesisMarkerFraming(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03, 0x04}
	b := []byte{0x05, 0x06}
	var buf bytes.Buffer
	buf.Write(synthesisPrefix(22050, 1))
	buf.Write(markerChunk(a))
	buf.Write(markerChunk(b))
	buf.WriteString("{\"type\": \"audio-stop\", \"payload\": null}\n")

	got, err := parseSynthesis(buf.Bytes(), FramingMarker)
	if err != nil {
		t.Fatalf("parseSynthesis() error = %v", err)
	}
	if got.SampleRate != 22050 || got.Channels != 1 {
		t.Fatalf("audio info = %d/%d, want 22050/1", got.SampleRate, got.Channels)
	}
	if want := append(append([]byte{}, a...), b...); !bytes.Equal(got.Audio, want) {
		t.Fatalf("audio = %v, want %v", got.Audio, want)
	}
}

func TestCollectByMarkerUnterminatedTail(t *testing.T) {
	got := collectByMarker([]byte("xxnull}abc"), 0)
	if string(got) != "ab" {
		t.Fatalf("collectByMarker() = %q, want %q", got, "ab")
	}
}

func lengthEvent(typ string, data, payload []byte) []byte {
	header := fmt.Sprintf(`{"type": %q, "data_length": %d, "payload_length": %d}`, typ, len(data), len(payload))
	out := append([]byte(header), '\n')
	out = append(out, data...)
	return append(out, payload...)
}

func TestParseSynthesisLengthFramingSurvivesMarkerBytes(t *testing.T) {
	// PCM that contains both scan markers verbatim.
	tricky := []byte(`ab{"type123null}cd`)
	meta := []byte(`{"rate": 16000, "width": 2, "channels": 1}`)

	var buf bytes.Buffer
	buf.Write(synthesisPrefix(16000, 1))
	buf.Write(lengthEvent("audio-chunk", meta, tricky))
	buf.Write(lengthEvent("audio-chunk", meta, []byte{0x09, 0x08}))
	buf.Write(lengthEvent("audio-stop", nil, nil))

	got, err := parseSynthesis(buf.Bytes(), FramingLength)
	if err != nil {
		t.Fatalf("parseSynthesis(length) error = %v", err)
	}
	want := append(append([]byte{}, tricky...), 0x09, 0x08)
	if !bytes.Equal(got.Audio, want) {
		t.Fatalf("audio = %q, want %q", got.Audio, want)
	}

	legacy, err := parseSynthesis(buf.Bytes(), FramingMarker)
	if err != nil {
		t.Fatalf("parseSynthesis(marker) error = %v", err)
	}
	if bytes.Equal(legacy.Audio, want) {
		t.Fatalf("marker framing unexpectedly recovered tricky payload")
	}
}

func TestLengthFramingReportsIncompleteStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(synthesisPrefix(16000, 1))
	full := lengthEvent("audio-chunk", nil, []byte(`"audio-stop" inside pcm`))
	buf.Write(full[:len(full)-5])

	if _, err := parseSynthesis(buf.Bytes(), FramingLength); !errors.Is(err, errIncomplete) {
		t.Fatalf("parseSynthesis() error = %v, want errIncomplete", err)
	}
	if synthesisDone(FramingLength)(buf.Bytes()) {
		t.Fatalf("synthesisDone(length) = true for truncated stream")
	}
}

func TestParseSynthesisRejectsMissingAudioInfo(t *testing.T) {
	info := `{"rate": 22050}`
	raw := fmt.Sprintf("{\"data_length\": %d}\n%s", len(info), info)
	if _, err := parseSynthesis([]byte(raw), FramingMarker); !errors.Is(err, ErrInvalidResult) {
		t.Fatalf("parseSynthesis() error = %v, want ErrInvalidResult", err)
	}
}

func TestParseFraming(t *testing.T) {
	if f, err := ParseFraming(""); err != nil || f != FramingMarker {
		t.Fatalf("ParseFraming(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFraming("LENGTH"); err != nil || f != FramingLength {
		t.Fatalf("ParseFraming(LENGTH) = %q, %v", f, err)
	}
	if _, err := ParseFraming("bytes"); err == nil {
		t.Fatalf("ParseFraming(bytes) error = nil, want error")
	}
}

package speech

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
)

const mockSampleRate = 22050

// MockConverter is a local stand-in used when no wyoming backends are configured.
type MockConverter struct {
	Transcript string
}

func NewMockConverter() *MockConverter {
	return &MockConverter{Transcript: "simulated voice input"}
}

func (m *MockConverter) Transcribe(ctx context.Context, pcm []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TranscribeError{Err: err}
	}
	if len(pcm) == 0 {
		return "", nil
	}
	return m.Transcript, nil
}

// Synthesize returns a short tone whose length grows with the number of words.
func (m *MockConverter) Synthesize(ctx context.Context, text, _ string) (Synthesis, error) {
	if err := ctx.Err(); err != nil {
		return Synthesis{}, &SynthesizeError{Err: err}
	}
	words := len(strings.Fields(text))
	samples := (words + 1) * mockSampleRate / 10
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*440*float64(i)/mockSampleRate) * 8000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return Synthesis{Audio: pcm, SampleRate: mockSampleRate, Channels: 1}, nil
}

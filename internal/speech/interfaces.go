package speech

import "context"

// Synthesis is the PCM16LE audio produced for a piece of text.
type Synthesis struct {
	Audio      []byte
	SampleRate int
	Channels   int
}

// Converter turns audio into text and text into audio.
type Converter interface {
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
	Synthesize(ctx context.Context, text, language string) (Synthesis, error)
}

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func samples(vals ...int16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestEncodeDecodeMono(t *testing.T) {
	pcm := samples(0, 1000, -1000, 32767)
	wav, err := EncodeWAV(pcm, 22050, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav size = %d, want %d", len(wav), 44+len(pcm))
	}
	got, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != 22050 {
		t.Fatalf("rate = %d, want 22050", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm = %v, want %v", got, pcm)
	}
}

func TestDecodeDownmixesStereo(t *testing.T) {
	wav, err := EncodeWAV(samples(100, 300, -200, -400), 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	got, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if want := samples(200, -300); !bytes.Equal(got, want) {
		t.Fatalf("mono = %v, want %v", got, want)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("RIFF....WAVX"), []byte("RIFF\x04\x00\x00\x00WAVE")} {
		if _, _, err := DecodeWAV(data); !errors.Is(err, ErrUnsupportedWAV) {
			t.Fatalf("DecodeWAV(%q) error = %v, want ErrUnsupportedWAV", data, err)
		}
	}
}

func TestResampleLength(t *testing.T) {
	pcm := make([]byte, 44100*2)
	if got := Resample(pcm, 44100, 16000); len(got) != 16000*2 {
		t.Fatalf("resampled bytes = %d, want %d", len(got), 16000*2)
	}
	if got := Resample(pcm, 16000, 16000); len(got) != len(pcm) {
		t.Fatalf("same-rate resample changed length")
	}
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := WriteWAVFile(path, samples(1, 2, 3), 16000, 1); err != nil {
		t.Fatalf("WriteWAVFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data[:4]) != "RIFF" || len(data) != 50 {
		t.Fatalf("file header/size = %q/%d", data[:4], len(data))
	}
}

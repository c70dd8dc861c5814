// SPDX-License-Identifier: MIT
package clip

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResample(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"44.1k to 16k", 44100, 44100, 16000, 16000},
		{"48k to 16k", 4800, 48000, 16000, 1600},
		{"same rate", 100, 16000, 16000, 100},
		{"upsample", 100, 8000, 16000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resample(make([]float32, tt.in), tt.from, tt.to)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			if len(out) != tt.want {
				t.Errorf("length = %d, want %d", len(out), tt.want)
			}
		})
	}

	if _, err := Resample([]float32{1}, 0, 16000); err == nil {
		t.Error("zero source rate accepted")
	}
}

func TestResampleInterpolates(t *testing.T) {
	t.Parallel()
	out, _ := Resample([]float32{0, 1, 0, -1}, 8000, 16000)
	want := []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out = %v, want %v", out, want)
		}
	}
}

func TestAmplifyClips(t *testing.T) {
	t.Parallel()
	s := []float32{0.01, -0.05, 0.2, -0.5}
	Amplify(s, 12)
	want := []float32{0.12, -0.6, 1, -1}
	for i := range want {
		if d := s[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Errorf("sample %d = %g, want %g", i, s[i], want[i])
		}
	}
}

func TestCaptureFills(t *testing.T) {
	t.Parallel()
	c, err := NewCapture(100*time.Millisecond, 1000)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	if c.Append(make([]float32, 60)) {
		t.Fatal("capture full after 60 of 100 samples")
	}
	if p := c.Progress(); p != 0.6 {
		t.Errorf("progress = %g, want 0.6", p)
	}
	if !c.Append(make([]float32, 60)) {
		t.Fatal("capture not full after 120 samples")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	if n := len(c.Samples()); n != 100 {
		t.Errorf("kept %d samples, want 100", n)
	}
	// Further appends are ignored and do not panic.
	c.Append(make([]float32, 10))
	c.Finish()
}

func TestPrepareEncode(t *testing.T) {
	t.Parallel()
	p := DefaultPrepare()
	p.Amplify = 12
	data, err := p.Encode(make([]float32, 44100), 44100)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[24:]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if len(data) != HeaderSize+2*16000 {
		t.Errorf("length = %d, want %d", len(data), HeaderSize+2*16000)
	}
	if _, err := p.Encode(nil, 44100); err == nil {
		t.Error("empty capture encoded")
	}
}

func TestSaveFile(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "recordings")
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	path, err := SaveFile(dir, "recording", ".wav", []byte("RIFF"), at)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if !strings.HasSuffix(path, "recording_20240309_140507.wav") {
		t.Errorf("path = %s", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "RIFF" {
		t.Errorf("contents = %q", data)
	}
}

// SPDX-License-Identifier: MIT
package classify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cardio/internal/clip"
)

// MaxUploadSize is the largest file accepted for classification.
const MaxUploadSize = 10 << 20

// ReadUpload loads a clip from disk and checks it before submission: a .wav
// extension, at most MaxUploadSize bytes, and a readable PCM WAV.
func ReadUpload(path string) ([]byte, *clip.Clip, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return nil, nil, fmt.Errorf("%w: %s is not a .wav file", ErrInvalidUpload, filepath.Base(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	if info.Size() > MaxUploadSize {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidUpload, filepath.Base(path), info.Size(), MaxUploadSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	c, err := clip.DecodeWAV(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}
	return data, c, nil
}

// ClassifyFile validates and submits a WAV file.
func (c *Client) ClassifyFile(ctx context.Context, path string) (*Result, error) {
	data, _, err := ReadUpload(path)
	if err != nil {
		return nil, err
	}
	return c.Classify(ctx, data)
}

// SaveImages writes the waveform and spectrogram renderings to dir and
// returns the written paths. Missing images are skipped.
func (r *Result) SaveImages(dir string, at time.Time) ([]string, error) {
	var paths []string
	var errs []error
	for _, img := range []struct {
		prefix string
		data   []byte
	}{
		{"waveform", r.Waveform},
		{"spectrogram", r.Spectrogram},
	} {
		if len(img.data) == 0 {
			continue
		}
		p, err := clip.SaveFile(dir, img.prefix, ".png", img.data, at)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, p)
	}
	return paths, errors.Join(errs...)
}

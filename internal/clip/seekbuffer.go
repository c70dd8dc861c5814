// SPDX-License-Identifier: MIT
package clip

import (
	"errors"
	"io"
)

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch the RIFF and data sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

var errNegativeSeek = errors.New("seek to negative position")

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, max(end, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:end]
		}
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return 0, errors.New("invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errNegativeSeek
	}
	b.pos = int(next)
	return next, nil
}

// Bytes returns the written contents.
func (b *seekBuffer) Bytes() []byte { return b.buf }

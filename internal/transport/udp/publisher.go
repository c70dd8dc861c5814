// SPDX-License-Identifier: MIT
//
// Package udp streams the display trace to a visualizer as compact binary
// datagrams.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "cardio/internal/log"
)

// Frame is one snapshot of the display trace.
type Frame struct {
	BPM    int       // Smoothed rate, 0 while unknown.
	Values []float32 // Rendered trace, oldest first.
	Beats  []bool    // Beat flag per value; may be shorter than Values.
}

// TraceSource provides the latest display trace.
type TraceSource interface {
	TraceFrame() Frame
}

// PacketSender transmits one encoded packet.
type PacketSender interface {
	Send(data []byte) error
}

/*
Packet layout (big endian):

|<- 4 ->|<--- 8 --->|<- 2 ->|<- 2 ->|<--- N * 4 --->|<- ceil(N/8) ->|
+-------+-----------+-------+-------+---------------+---------------+
|  seq  | timestamp |  bpm  |   N   |    values     |  beat bitmap  |
|uint32 |   int64   |uint16 |uint16 |  N * float32  | bit i = beat  |
+-------+-----------+-------+-------+---------------+---------------+

The timestamp is nanoseconds since the Unix epoch. Bit i of the bitmap is
bit (i%8) of byte i/8, least significant first.
*/

// HeaderSize is the fixed part of every packet.
const HeaderSize = 16

// MaxValues bounds the trace length carried by one packet.
const MaxValues = math.MaxUint16

// ErrShortPacket is returned by DecodePacket for truncated input.
var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded datagram.
type Packet struct {
	Sequence  uint32
	Timestamp time.Time
	BPM       int
	Values    []float32
	Beats     []bool
}

// Publisher periodically encodes the trace of a TraceSource and sends it.
type Publisher struct {
	sender   PacketSender
	source   TraceSource
	interval time.Duration

	mu       sync.Mutex
	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup

	sequenceNum uint32
	packet      []byte
	now         func() time.Time
}

// NewPublisher creates a publisher. An interval <= 0 defaults to ~30 Hz.
func NewPublisher(interval time.Duration, sender PacketSender, source TraceSource) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("udp publisher: sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("udp publisher: trace source cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &Publisher{
		sender:   sender,
		source:   source,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Start launches the publishing goroutine. Calling Start on a running
// publisher does nothing.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publishing every %s", p.interval)
		for {
			select {
			case <-ticker.C:
				if err := p.Publish(); err != nil {
					applog.Debugf("UDPPublisher: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
}

// Stop halts the goroutine and waits for it. It is safe to call repeatedly.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Stopped after %d packets", p.Sequence())
	return nil
}

// Close stops the publisher.
func (p *Publisher) Close() error {
	return p.Stop()
}

// Sequence returns the number of the last packet built.
func (p *Publisher) Sequence() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequenceNum
}

// Publish encodes and sends one packet immediately.
func (p *Publisher) Publish() error {
	frame := p.source.TraceFrame()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sequenceNum++
	p.packet = AppendPacket(p.packet[:0], p.sequenceNum, p.now(), frame)
	return p.sender.Send(p.packet)
}

// AppendPacket encodes frame onto dst and returns the extended slice.
// Values beyond MaxValues are dropped.
func AppendPacket(dst []byte, seq uint32, at time.Time, frame Frame) []byte {
	n := min(len(frame.Values), MaxValues)
	bpm := uint16(max(0, min(frame.BPM, math.MaxUint16)))

	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(at.UnixNano()))
	dst = binary.BigEndian.AppendUint16(dst, bpm)
	dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	for _, v := range frame.Values[:n] {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
	}

	bitmap := (n + 7) / 8
	start := len(dst)
	for range bitmap {
		dst = append(dst, 0)
	}
	for i := 0; i < n && i < len(frame.Beats); i++ {
		if frame.Beats[i] {
			dst[start+i/8] |= 1 << (i % 8)
		}
	}
	return dst
}

// DecodePacket parses a datagram produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	n := int(binary.BigEndian.Uint16(b[14:16]))
	if len(b) < HeaderSize+n*4+(n+7)/8 {
		return Packet{}, ErrShortPacket
	}

	pkt := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:4]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:12]))),
		BPM:       int(binary.BigEndian.Uint16(b[12:14])),
		Values:    make([]float32, n),
		Beats:     make([]bool, n),
	}
	off := HeaderSize
	for i := range pkt.Values {
		pkt.Values[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
		off += 4
	}
	for i := range pkt.Beats {
		pkt.Beats[i] = b[off+i/8]&(1<<(i%8)) != 0
	}
	return pkt, nil
}

var _ interface{ Close() error } = (*Publisher)(nil)

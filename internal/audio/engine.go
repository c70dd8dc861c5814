// SPDX-License-Identifier: MIT
/*
Package audio runs live heartbeat monitoring sessions:
- Device capture through PortAudio, or WAV replay
- Cardiac band filtering in arrival order on the ingest goroutine
- Per-tick energy, beat detection and BPM on the tick goroutine
- Gain-scaled monitoring playback and clip capture

Thread Safety:
- The ingest goroutine is the only writer of filter state
- Samples cross to the tick goroutine through a mutex-guarded Handoff
- Gain and the active capture are atomics, the only state set from outside
*/
package audio

import (
	"cardio/internal/analysis"
	"cardio/internal/clip"
	"cardio/internal/config"
	"cardio/internal/observe"
	"cardio/internal/transport"
	"cardio/internal/transport/udp"
	"cardio/internal/waveform"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	applog "cardio/internal/log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("monitoring session already running")

	// ErrNotRunning is returned by operations that need an active session.
	ErrNotRunning = errors.New("no monitoring session running")
)

// SourceFunc opens the input for a new session.
type SourceFunc func(ctx context.Context, cfg config.AudioConfig) (Source, error)

// MonitorFunc opens the playback output for a new session.
type MonitorFunc func(cfg config.AudioConfig) (Monitor, error)

// Option configures an Engine.
type Option func(*Engine)

// WithTransport publishes per-tick telemetry, beats and band energies.
func WithTransport(t transport.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithMetrics records detector and pipeline metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSource replaces the device input, e.g. with a file replay.
func WithSource(fn SourceFunc) Option {
	return func(e *Engine) { e.openSource = fn }
}

// WithMonitor replaces the playback output.
func WithMonitor(fn MonitorFunc) Option {
	return func(e *Engine) { e.openMonitor = fn }
}

// WithPacedTicks drives ticks from the sample clock instead of the wall
// clock: one tick per sampleRate/refreshRate samples, run on the ingest
// goroutine. Replay and tests use it to get results independent of
// scheduling.
func WithPacedTicks() Option {
	return func(e *Engine) { e.paced = true }
}

// Engine starts and stops monitoring sessions. One session runs at a time.
type Engine struct {
	cfg         *config.Config
	transport   transport.Transport
	metrics     *observe.Metrics
	openSource  SourceFunc
	openMonitor MonitorFunc
	paced       bool

	gain    Gain
	capture atomic.Pointer[clip.Capture]

	lifecycle sync.Mutex // Serializes Start and Stop.
	mu        sync.RWMutex
	run       *run
	lastErr   error
}

// run is one started session with its goroutines and devices.
type run struct {
	session *Session
	source  Source
	monitor Monitor
	started time.Time

	tickCtx      context.Context
	cancelTicks  context.CancelFunc
	cancelIngest context.CancelFunc
	ticksDone    chan struct{}
	pacing       sync.Mutex // Held while paced ticks run on the ingest goroutine.
	done         chan struct{}
	err          error

	monitorBuf   []float32
	pacedSamples int64
	lastDropped  uint64
	lastBPM      analysis.BpmReading
}

// NewEngine validates cfg and creates an idle engine.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("audio engine: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("audio engine: %w", err)
	}
	e := &Engine{
		cfg: cfg,
		openSource: func(_ context.Context, a config.AudioConfig) (Source, error) {
			return OpenInput(a)
		},
		openMonitor: OpenMonitor,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gain.Set(cfg.Audio.Gain)
	return e, nil
}

// Start opens the input and launches a fresh session. Device failures are
// returned as ErrDeviceUnavailable. The session ends when ctx is cancelled,
// when the source runs out, or on Stop; Stop must be called in every case
// to release the devices.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.current() != nil {
		return ErrAlreadyRunning
	}

	src, err := e.openSource(ctx, e.cfg.Audio)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return err
	}

	sess, err := newSession(e.cfg, src.SampleRate())
	if err != nil {
		src.Close()
		return err
	}
	if e.transport != nil && sess.spectrum != nil {
		if sess.bands, err = analysis.NewBandEnergyProcessor(e.transport, sess.spectrum); err != nil {
			src.Close()
			return err
		}
	}

	r := &run{
		session:   sess,
		source:    src,
		started:   time.Now(),
		ticksDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if e.cfg.Audio.Monitor && e.openMonitor != nil {
		mon, err := e.openMonitor(e.cfg.Audio)
		if err != nil {
			applog.Warnf("Engine: Monitoring disabled: %v", err)
		} else {
			r.monitor = mon
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	tickCtx, cancelTicks := context.WithCancel(gctx)
	ingestCtx, cancelIngest := context.WithCancel(gctx)
	r.tickCtx, r.cancelTicks, r.cancelIngest = tickCtx, cancelTicks, cancelIngest

	g.Go(func() error { return e.ingestLoop(ingestCtx, r) })
	if e.paced {
		close(r.ticksDone)
	} else {
		g.Go(func() error {
			defer close(r.ticksDone)
			return e.tickLoop(tickCtx, r)
		})
	}
	go func() {
		r.err = g.Wait()
		if r.err != nil {
			applog.Errorf("Engine: Session %s failed: %v", sess.id, r.err)
		}
		close(r.done)
	}()

	e.mu.Lock()
	e.run = r
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	applog.Infof("Engine: Session %s started (%.0f Hz, %d samples per tick, paced=%v)",
		sess.id, sess.sampleRate, sess.perTick, e.paced)
	return nil
}

// Stop ends the session: it halts the tick loop, then stops the input
// device and playback, then releases the session buffers. It is safe to
// call when idle.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	r := e.current()
	if r == nil {
		return nil
	}

	r.cancelTicks()
	<-r.ticksDone
	// Paced ticks run on the ingest goroutine; wait out the one in flight.
	r.pacing.Lock()
	r.pacing.Unlock()

	r.cancelIngest()
	closeErr := r.source.Close()
	<-r.done

	if r.monitor != nil {
		if err := r.monitor.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if c := e.capture.Swap(nil); c != nil {
		c.Finish()
	}

	e.mu.Lock()
	e.run = nil
	e.lastErr = r.err
	e.mu.Unlock()

	r.session.release()
	if e.metrics != nil {
		e.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	applog.Infof("Engine: Session %s stopped after %s", r.session.id, time.Since(r.started).Round(time.Millisecond))
	return errors.Join(r.err, closeErr)
}

func (e *Engine) current() *run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.run
}

// Running reports whether a session is active.
func (e *Engine) Running() bool {
	return e.current() != nil
}

// Done is closed when the running session's goroutines have exited. It
// returns a closed channel when idle.
func (e *Engine) Done() <-chan struct{} {
	if r := e.current(); r != nil {
		return r.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Err returns the error that ended the running session, or of the last
// stopped one. A source that runs out is not an error.
func (e *Engine) Err() error {
	if r := e.current(); r != nil {
		select {
		case <-r.done:
			return r.err
		default:
			return nil
		}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// SetGain sets the monitoring volume, clamped to [MinGain, MaxGain], and
// returns the stored value.
func (e *Engine) SetGain(v int) int {
	return e.gain.Set(v)
}

// Gain returns the monitoring volume.
func (e *Engine) Gain() int {
	return e.gain.Get()
}

// Snapshot returns the state of the running session. When idle it reports
// Running false and the gain only.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	if r := e.current(); r != nil {
		snap = r.session.Snapshot()
	}
	snap.Gain = e.gain.Get()
	if c := e.capture.Load(); c != nil {
		snap.Capturing = true
		snap.Progress = c.Progress()
	}
	return snap
}

// Trace maps the scrolling waveform onto l.
func (e *Engine) Trace(l waveform.Layout) []waveform.TracePoint {
	if r := e.current(); r != nil {
		return r.session.renderer.Trace(l)
	}
	return nil
}

// Points returns the buffered waveform points, oldest first.
func (e *Engine) Points() []waveform.Point {
	if r := e.current(); r != nil {
		return r.session.renderer.Points()
	}
	return nil
}

// TraceFrame implements udp.TraceSource.
func (e *Engine) TraceFrame() udp.Frame {
	r := e.current()
	if r == nil {
		return udp.Frame{}
	}
	pts := r.session.renderer.Points()
	f := udp.Frame{
		Values: make([]float32, len(pts)),
		Beats:  make([]bool, len(pts)),
	}
	for i, p := range pts {
		f.Values[i] = float32(p.Value)
		f.Beats[i] = p.Beat
	}
	if bpm := r.session.Snapshot().BPM; bpm.Known {
		f.BPM = bpm.Value
	}
	return f
}

func (e *Engine) ingestLoop(ctx context.Context, r *run) error {
	s := r.session
	for {
		frame, err := r.source.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			applog.Infof("Engine: Input of session %s ended", s.id)
			r.cancelTicks()
			return nil
		case ctx.Err() != nil, errors.Is(err, ErrSourceClosed):
			return nil
		default:
			return fmt.Errorf("read input: %w", err)
		}

		if c := e.capture.Load(); c != nil {
			if c.Append(frame.Samples) {
				e.capture.CompareAndSwap(c, nil)
			}
		}

		s.ingest(frame.Samples)

		if r.monitor != nil {
			if cap(r.monitorBuf) < len(frame.Samples) {
				r.monitorBuf = make([]float32, len(frame.Samples))
			}
			buf := r.monitorBuf[:len(frame.Samples)]
			e.gain.Apply(buf, frame.Samples)
			r.monitor.Write(buf)
		}

		if e.paced {
			e.pacedTicks(r)
		}
	}
}

// pacedTicks runs one tick per perTick buffered samples until the handoff
// runs short or the ticks are cancelled.
func (e *Engine) pacedTicks(r *run) {
	r.pacing.Lock()
	defer r.pacing.Unlock()

	s := r.session
	for r.tickCtx.Err() == nil && s.handoff.Len() >= s.perTick {
		r.pacedSamples += int64(s.perTick)
		at := time.Duration(float64(r.pacedSamples) / s.sampleRate * float64(time.Second))
		e.step(r.tickCtx, r, at, s.perTick)
	}
}

func (e *Engine) tickLoop(ctx context.Context, r *run) error {
	interval := time.Duration(float64(time.Second) / e.cfg.Display.RefreshRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.step(ctx, r, now.Sub(r.started), 0)
		}
	}
}

// step runs one tick and publishes its outcome.
func (e *Engine) step(ctx context.Context, r *run, at time.Duration, limit int) {
	begin := time.Now()
	s := r.session
	det := s.tick(at, limit)

	if e.metrics != nil {
		e.record(ctx, r, det)
	}
	if e.transport != nil {
		e.publish(s, det)
		if s.bandEnergyDue() {
			s.bands.Process(s.id)
		}
	}
	if e.metrics != nil {
		e.metrics.TickDuration.Record(ctx, time.Since(begin).Seconds())
	}
}

func (e *Engine) record(ctx context.Context, r *run, det analysis.Detection) {
	m := e.metrics
	switch {
	case det.IsBeat:
		m.Beats.Add(ctx, 1)
	case det.Rejected == analysis.RejectNotLocalMax,
		det.Rejected == analysis.RejectRefractory,
		det.Rejected == analysis.RejectProminence:
		m.RecordRejection(ctx, det.Rejected.String())
	}
	if det.SignalLost {
		m.SignalLost.Add(ctx, 1)
	}
	if det.BPM != r.lastBPM {
		r.lastBPM = det.BPM
		m.BPM.Record(ctx, int64(det.BPM.Value), metric.WithAttributes(attribute.Bool("known", det.BPM.Known)))
	}
	if dc, ok := r.source.(DropCounter); ok {
		if n := dc.Dropped(); n > r.lastDropped {
			m.DroppedFrames.Add(ctx, int64(n-r.lastDropped))
			r.lastDropped = n
		}
	}
}

// Telemetry is the per-tick message sent to transports.
type Telemetry struct {
	Type      string  `json:"type"`
	Session   string  `json:"session"`
	AtMs      int64   `json:"at_ms"`
	Energy    float64 `json:"energy"`
	Level     float64 `json:"level"`
	Threshold float64 `json:"threshold"`
	BPM       *int    `json:"bpm"`
	Status    string  `json:"status"`
	Beats     int     `json:"beats"`
	Beat      bool    `json:"beat"`
}

// BeatMessage announces an accepted beat.
type BeatMessage struct {
	Type    string  `json:"type"`
	Session string  `json:"session"`
	AtMs    int64   `json:"at_ms"`
	Energy  float64 `json:"energy"`
	BPM     *int    `json:"bpm"`
}

// IsBeat reports whether a published message is a BeatMessage. Transports
// that shed load use it to keep beats.
func IsBeat(data any) bool {
	_, ok := data.(BeatMessage)
	return ok
}

func (e *Engine) publish(s *Session, det analysis.Detection) {
	var bpm *int
	if det.BPM.Known {
		v := det.BPM.Value
		bpm = &v
	}
	msg := Telemetry{
		Type:      "telemetry",
		Session:   s.id,
		AtMs:      det.Energy.At.Milliseconds(),
		Energy:    det.Energy.Value,
		Level:     analysis.SignalLevel(det.Energy.Value),
		Threshold: det.Threshold,
		BPM:       bpm,
		Status:    det.BPM.Status().String(),
		Beats:     s.detector.BeatCount(),
		Beat:      det.IsBeat,
	}
	if err := e.transport.Send(msg); err != nil {
		applog.Debugf("Engine: Telemetry send failed: %v", err)
	}
	if !det.IsBeat {
		return
	}
	beat := BeatMessage{
		Type:    "beat",
		Session: s.id,
		AtMs:    det.Beat.At.Milliseconds(),
		Energy:  det.Beat.Energy,
		BPM:     bpm,
	}
	if err := e.transport.Send(beat); err != nil {
		applog.Debugf("Engine: Beat send failed: %v", err)
	}
}

var _ udp.TraceSource = (*Engine)(nil)

// SPDX-License-Identifier: MIT
package tui

import (
	"cardio/internal/audio"
	"cardio/internal/clip"
	"cardio/internal/classify"
	"cardio/internal/config"
	"cardio/internal/waveform"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Engine is the part of the audio engine the monitor drives.
type Engine interface {
	Snapshot() audio.Snapshot
	Trace(l waveform.Layout) []waveform.TracePoint
	SetGain(v int) int
	StartCapture(d time.Duration) (*clip.Capture, error)
	StopCapture()
	Done() <-chan struct{}
	Err() error
}

// SubmitFunc encodes and classifies a finished capture.
type SubmitFunc func(ctx context.Context, c *clip.Capture) (*classify.Result, error)

// MonitorOptions configures a MonitorModel.
type MonitorOptions struct {
	Refresh time.Duration // Redraw interval.
	Capture time.Duration // Length of a clip.
	Submit  SubmitFunc    // Nil records clips without classifying them.
	Source  string        // Shown in the header.
}

type keyMap struct {
	VolumeUp   key.Binding
	VolumeDown key.Binding
	Capture    key.Binding
	Cancel     key.Binding
	Dismiss    key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.VolumeUp, k.VolumeDown, k.Capture, k.Dismiss, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.VolumeUp, k.VolumeDown},
		{k.Capture, k.Cancel},
		{k.Dismiss, k.Help, k.Quit},
	}
}

var keys = keyMap{
	VolumeUp:   key.NewBinding(key.WithKeys("+", "=", "up"), key.WithHelp("+", "volume up")),
	VolumeDown: key.NewBinding(key.WithKeys("-", "down"), key.WithHelp("-", "volume down")),
	Capture:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "record & classify")),
	Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel recording")),
	Dismiss:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss notice")),
	Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type (
	frameMsg       time.Time
	captureDoneMsg struct{ capture *clip.Capture }
	classifiedMsg  struct {
		result *classify.Result
		err    error
	}
)

// MonitorModel is the live heartbeat monitor screen.
type MonitorModel struct {
	engine Engine
	opts   MonitorOptions
	ctx    context.Context
	cancel context.CancelFunc

	width, height int
	snap          audio.Snapshot
	trace         string
	ended         bool

	capture     *clip.Capture
	classifying bool
	result      *classify.Result

	level   progress.Model
	capBar  progress.Model
	spinner spinner.Model
	help    help.Model
	notices notices
}

// NewMonitorModel creates the monitor for a started engine.
func NewMonitorModel(e Engine, opts MonitorOptions) MonitorModel {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second / time.Duration(config.DefaultRefreshRate)
	}
	if opts.Capture <= 0 {
		opts.Capture = config.DefaultCaptureDuration
	}
	ctx, cancel := context.WithCancel(context.Background())
	return MonitorModel{
		engine:  e,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		width:   80,
		height:  24,
		snap:    e.Snapshot(),
		level:   progress.New(progress.WithGradient("#25A065", "#E0475B"), progress.WithoutPercentage()),
		capBar:  progress.New(progress.WithSolidFill(string(accent))),
		spinner: spinner.New(spinner.WithSpinner(spinner.Pulse), spinner.WithStyle(highlightStyle)),
		help:    help.New(),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return m.frame()
}

func (m MonitorModel) frame() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return frameMsg(t) })
}

func waitCapture(c *clip.Capture) tea.Cmd {
	return func() tea.Msg {
		<-c.Done()
		return captureDoneMsg{c}
	}
}

func (m MonitorModel) submit(c *clip.Capture) tea.Cmd {
	ctx, fn := m.ctx, m.opts.Submit
	return func() tea.Msg {
		res, err := fn(ctx, c)
		return classifiedMsg{res, err}
	}
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.level.Width = max(10, msg.Width-12)
		m.capBar.Width = max(10, msg.Width-24)
		m.help.Width = msg.Width
		m.trace = m.drawTrace()

	case frameMsg:
		m.snap = m.engine.Snapshot()
		m.trace = m.drawTrace()
		if m.ended {
			return m, nil
		}
		select {
		case <-m.engine.Done():
			m.ended = true
			m.engine.StopCapture()
			if err := m.engine.Err(); err != nil {
				m.notices.push(noticeError, fmt.Sprintf("Audio input failed: %v", err))
			} else {
				m.notices.push(noticeInfo, "Input ended")
			}
			return m, nil
		default:
		}
		return m, m.frame()

	case captureDoneMsg:
		if msg.capture != m.capture {
			return m, nil
		}
		m.capture = nil
		if msg.capture.Progress() < 1 {
			m.notices.push(noticeWarn, "Recording stopped before the clip was complete")
			return m, nil
		}
		if m.opts.Submit == nil {
			m.notices.push(noticeInfo, fmt.Sprintf("Recorded %s", m.opts.Capture))
			return m, nil
		}
		m.classifying = true
		m.result = nil
		return m, tea.Batch(m.spinner.Tick, m.submit(msg.capture))

	case classifiedMsg:
		m.classifying = false
		if msg.err != nil {
			m.notices.push(noticeError, fmt.Sprintf("Classification failed: %v", msg.err))
			return m, nil
		}
		m.result = msg.result
		if msg.result.Degraded {
			m.notices.push(noticeWarn, "Classified by the diagnostic endpoint; result is for testing only")
		}

	case spinner.TickMsg:
		if !m.classifying {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m MonitorModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.cancel()
		if m.capture != nil {
			m.engine.StopCapture()
		}
		return m, tea.Quit

	case key.Matches(msg, keys.VolumeUp):
		m.snap.Gain = m.engine.SetGain(m.snap.Gain + 1)

	case key.Matches(msg, keys.VolumeDown):
		m.snap.Gain = m.engine.SetGain(m.snap.Gain - 1)

	case key.Matches(msg, keys.Capture):
		switch {
		case m.capture != nil:
			return m, nil
		case m.classifying:
			m.notices.push(noticeWarn, "Classification in progress")
			return m, nil
		case m.ended:
			m.notices.push(noticeWarn, "No input to record")
			return m, nil
		}
		c, err := m.engine.StartCapture(m.opts.Capture)
		if err != nil {
			m.notices.push(noticeError, fmt.Sprintf("Cannot record: %v", err))
			return m, nil
		}
		m.capture = c
		return m, waitCapture(c)

	case key.Matches(msg, keys.Cancel):
		if m.capture != nil {
			m.capture = nil
			m.engine.StopCapture()
		}

	case key.Matches(msg, keys.Dismiss):
		m.notices.dismiss()

	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// traceSize returns the canvas size in cells for the current window.
func (m MonitorModel) traceSize() (cols, rows int) {
	cols = max(20, m.width-4)
	rows = min(16, max(4, m.height-18))
	return cols, rows
}

func (m MonitorModel) drawTrace() string {
	c := newCanvas(m.traceSize())
	l := c.Layout()
	c.Grid(waveform.GridLines(l))
	c.Plot(m.engine.Trace(l))
	return c.Render(traceStyle, beatStyle, gridStyle)
}

func (m MonitorModel) View() string {
	var sections []string

	state := "listening"
	switch {
	case m.ended || !m.snap.Running:
		state = "stopped"
	case !m.snap.WarmedUp:
		state = "warming up"
	}
	header := titleStyle.Render("♥ cardio") + " " + dimStyle.Render(m.opts.Source) + "  " + infoStyle.Render(state)
	sections = append(sections, header, "")

	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, m.bpmCard(), " ", m.statsCard()))
	sections = append(sections, "Signal "+m.level.ViewAs(m.snap.Level/100))
	sections = append(sections, "", m.trace, "")

	switch {
	case m.capture != nil:
		sections = append(sections, fmt.Sprintf("Recording %s %s", m.capBar.ViewAs(m.snap.Progress), m.opts.Capture))
	case m.classifying:
		sections = append(sections, m.spinner.View()+" Classifying recording...")
	}
	if m.result != nil {
		sections = append(sections, m.resultView())
	}
	if n := m.notices.view(m.width); n != "" {
		sections = append(sections, n)
	}
	sections = append(sections, m.help.View(keys))
	return strings.Join(sections, "\n")
}

func (m MonitorModel) bpmCard() string {
	bpm := "---"
	status := m.snap.BPM.Status()
	if m.snap.BPM.Known {
		bpm = fmt.Sprintf("%3d", m.snap.BPM.Value)
	}
	body := bpmStyle.Foreground(statusColor(status)).Render(bpm+" BPM") + "\n" + dimStyle.Render(status.String())
	return cardStyle.Render(body)
}

func (m MonitorModel) statsCard() string {
	last := "-"
	if m.snap.Beats > 0 {
		last = m.snap.LastBeat.Round(10 * time.Millisecond).String()
	}
	vol := strings.Repeat("▮", m.snap.Gain) + strings.Repeat("▯", config.MaxGain-m.snap.Gain)
	lines := []string{
		fmt.Sprintf("Beats %d   Last %s   Elapsed %s", m.snap.Beats, last, m.snap.Elapsed.Round(time.Second)),
		fmt.Sprintf("Threshold %.4f   Energy %.4f", m.snap.Threshold, m.snap.Energy),
		fmt.Sprintf("Volume %s %d", vol, m.snap.Gain),
	}
	if m.snap.Dropped > 0 {
		lines = append(lines, noticeStyles[noticeWarn].Render(fmt.Sprintf("Dropped %d samples", m.snap.Dropped)))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func (m MonitorModel) resultView() string {
	r := m.result
	head := severityStyle(r.Info.Severity).Render(fmt.Sprintf("%s (%s)", r.Info.Name, r.Label))
	if r.Info.Name == "" {
		head = severityStyle(classify.SeverityWarning).Render(string(r.Label))
	}
	via := fmt.Sprintf("%s in %s", r.Endpoint, r.Elapsed.Round(time.Millisecond))
	if r.Degraded {
		via += ", diagnostic"
	}
	return "Result " + head + "  " + dimStyle.Render(via) + "\n" + r.Info.Description
}

// RunMonitor shows the monitor until the user quits.
func RunMonitor(e Engine, opts MonitorOptions) error {
	p := tea.NewProgram(NewMonitorModel(e, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// SPDX-License-Identifier: MIT
package tui

import (
	"cardio/internal/audio"
	"cardio/internal/config"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// sampleRates are the rates offered for a stethoscope input.
var sampleRates = []float64{config.MinSampleRate, 16000, 22050, 44100, 48000}

// Selection is the outcome of the device picker.
type Selection struct {
	DeviceID   int
	Name       string
	SampleRate float64
	Chosen     bool // False when the user quit without choosing.
}

// Apply writes the selection into cfg.
func (s Selection) Apply(cfg *config.AudioConfig) {
	if !s.Chosen {
		return
	}
	cfg.InputDevice = s.DeviceID
	cfg.SampleRate = s.SampleRate
}

// DeviceListModel lets the user pick the input device and sample rate.
type DeviceListModel struct {
	listDevices   func() ([]audio.Device, error)
	devices       []audio.Device // Inputs only.
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	sampleRateIndex int
	selection       Selection
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

var (
	upKey    = key.NewBinding(key.WithKeys("up", "k"))
	downKey  = key.NewBinding(key.WithKeys("down", "j"))
	enterKey = key.NewBinding(key.WithKeys("enter"))
	backKey  = key.NewBinding(key.WithKeys("esc"))
	quitKey  = key.NewBinding(key.WithKeys("q", "ctrl+c"))
)

// NewDeviceListModel creates a picker over the host devices.
func NewDeviceListModel() DeviceListModel {
	return DeviceListModel{
		listDevices:  audio.GetDevices,
		activeScreen: ListScreen,
	}
}

// Init fetches the device list.
func (m DeviceListModel) Init() tea.Cmd {
	list := m.listDevices
	return func() tea.Msg {
		devices, err := list()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// Selection returns what the user picked.
func (m DeviceListModel) Selection() Selection {
	return m.selection
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = m.devices[:0]
		for _, d := range msg.devices {
			if d.MaxInputChannels > 0 {
				m.devices = append(m.devices, d)
			}
		}
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, quitKey) || m.err != nil {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, upKey):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, downKey):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, enterKey):
				if len(m.devices) > 0 {
					m.activeScreen = ConfigScreen
					m.sampleRateIndex = nearestRate(m.devices[m.selectedIndex].DefaultSampleRate)
				}
			}

		case ConfigScreen:
			switch {
			case key.Matches(msg, backKey):
				m.activeScreen = ListScreen
			case key.Matches(msg, upKey):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, downKey):
				if m.sampleRateIndex < len(sampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, enterKey):
				d := m.devices[m.selectedIndex]
				m.selection = Selection{
					DeviceID:   d.ID,
					Name:       d.Name,
					SampleRate: sampleRates[m.sampleRateIndex],
					Chosen:     true,
				}
				return m, tea.Quit
			}
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

// nearestRate returns the index of the offered rate closest to rate.
func nearestRate(rate float64) int {
	best := 0
	for i, r := range sampleRates {
		if abs(int(r-rate)) < abs(int(sampleRates[best]-rate)) {
			best = i
		}
	}
	return best
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Select Stethoscope Input")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Input Configuration")
		help = infoStyle.Render("↑/↓: Change Rate • Enter: Start • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Kind())
		info += fmt.Sprintf("    Input channels: %d, Default sample rate: %.0f Hz\n",
			device.MaxInputChannels, device.DefaultSampleRate)
		if device.HostAPI != "" {
			info += fmt.Sprintf("    Host API: %s\n", device.HostAPI)
		}
		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	device := m.devices[m.selectedIndex]

	fmt.Fprintf(&sb, "Configure Device: %s\n\n", device.Name)
	sb.WriteString("Sample Rate:\n")
	for i, rate := range sampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %.0f Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// PickDevice runs the device picker and returns the user's choice.
func PickDevice() (Selection, error) {
	p := tea.NewProgram(NewDeviceListModel(), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	m := final.(DeviceListModel)
	if m.err != nil {
		return Selection{}, m.err
	}
	return m.Selection(), nil
}

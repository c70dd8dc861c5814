// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

var fakeDevices = []*portaudio.DeviceInfo{
	{Name: "Built-in Microphone", MaxInputChannels: 1, DefaultSampleRate: 44100, DefaultLowInputLatency: 3 * time.Millisecond},
	{Name: "Built-in Output", MaxOutputChannels: 2, DefaultSampleRate: 48000, HostApi: &portaudio.HostApiInfo{Name: "Core Audio"}},
	{Name: "USB Stethoscope", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 44100},
}

// withFakeDevices replaces the PortAudio device queries for one test.
func withFakeDevices(t *testing.T) {
	t.Helper()
	origDevices := paLibDevicesFunc
	origIn := paLibDefaultInputDeviceFunc
	origOut := paLibDefaultOutputDeviceFunc
	t.Cleanup(func() {
		paLibDevicesFunc = origDevices
		paLibDefaultInputDeviceFunc = origIn
		paLibDefaultOutputDeviceFunc = origOut
	})
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return fakeDevices, nil }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[0], nil }
	paLibDefaultOutputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[1], nil }
}

func TestHostDevices(t *testing.T) {
	withFakeDevices(t)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) != len(fakeDevices) {
		t.Fatalf("got %d devices, want %d", len(devices), len(fakeDevices))
	}
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("Device ID mismatch: got %d, want %d", d.ID, i)
		}
		if d.Name != fakeDevices[i].Name {
			t.Errorf("Device %d name = %q", i, d.Name)
		}
	}
	if devices[1].HostAPI != "Core Audio" {
		t.Errorf("HostAPI = %q", devices[1].HostAPI)
	}
	if devices[0].LowInputLatency != 3*time.Millisecond {
		t.Errorf("LowInputLatency = %s", devices[0].LowInputLatency)
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	orig := paDevicesFunc
	defer func() { paDevicesFunc = orig }()
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	_, err := HostDevices()
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestDeviceKind(t *testing.T) {
	tests := []struct {
		in, out int
		want    string
	}{
		{1, 0, "Input"},
		{0, 2, "Output"},
		{2, 2, "Input/Output"},
		{0, 0, "Unavailable"},
	}
	for _, tt := range tests {
		d := Device{MaxInputChannels: tt.in, MaxOutputChannels: tt.out}
		if got := d.Kind(); got != tt.want {
			t.Errorf("Kind(%d in, %d out) = %q, want %q", tt.in, tt.out, got, tt.want)
		}
	}
}

func TestInputDevice(t *testing.T) {
	withFakeDevices(t)

	if dev, err := InputDevice(-1); err != nil || dev.Name != "Built-in Microphone" {
		t.Errorf("InputDevice(-1) = %v, %v; want default input", dev, err)
	}
	if dev, err := InputDevice(2); err != nil || dev.Name != "USB Stethoscope" {
		t.Errorf("InputDevice(2) = %v, %v", dev, err)
	}

	tests := []struct {
		name   string
		id     int
		substr string
	}{
		{"Negative ID", -2, "invalid device ID"},
		{"Too high ID", len(fakeDevices) + 10, "invalid device ID"},
		{"Non-input device", 1, "does not support input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InputDevice(tt.id)
			if err == nil {
				t.Errorf("Expected error for ID %d", tt.id)
			} else if !strings.Contains(err.Error(), tt.substr) {
				t.Errorf("Error = %q, want substring %q", err.Error(), tt.substr)
			}
		})
	}
}

func TestOutputDevice(t *testing.T) {
	withFakeDevices(t)

	if dev, err := OutputDevice(-1); err != nil || dev.Name != "Built-in Output" {
		t.Errorf("OutputDevice(-1) = %v, %v; want default output", dev, err)
	}
	if _, err := OutputDevice(0); err == nil || !strings.Contains(err.Error(), "does not support output") {
		t.Errorf("OutputDevice(0) error = %v", err)
	}
	if _, err := OutputDevice(99); err == nil || !strings.Contains(err.Error(), "invalid device ID") {
		t.Errorf("OutputDevice(99) error = %v", err)
	}
}

func TestInputDevice_paDefaultInputDeviceError(t *testing.T) {
	withFakeDevices(t)
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock default input error")
	}

	_, err := InputDevice(-1)
	if err == nil || !strings.Contains(err.Error(), "mock default input error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestListDevices(t *testing.T) {
	withFakeDevices(t)

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[0] Built-in Microphone (Input)", "[1] Built-in Output (Output)", "[2] USB Stethoscope (Input/Output)", "48000 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestErrorInitialize(t *testing.T) {
	orig := paLibInitialize
	defer func() { paLibInitialize = orig }()

	paLibInitialize = func() error { return nil }
	if err := Initialize(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibInitialize = func() error { return fmt.Errorf("mock init error") }
	if err := Initialize(); err == nil || !strings.Contains(err.Error(), "mock init error") {
		t.Errorf("expected mock init error, got %v", err)
	}
}

func TestErrorTerminate(t *testing.T) {
	orig := paLibTerminate
	defer func() { paLibTerminate = orig }()

	paLibTerminate = func() error { return nil }
	if err := Terminate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibTerminate = func() error { return fmt.Errorf("mock term error") }
	if err := Terminate(); err == nil || !strings.Contains(err.Error(), "mock term error") {
		t.Errorf("expected mock term error, got %v", err)
	}
}

func TestGetDevicesInitFailure(t *testing.T) {
	orig := paLibInitialize
	defer func() { paLibInitialize = orig }()
	paLibInitialize = func() error { return fmt.Errorf("no host audio") }

	if _, err := GetDevices(); err == nil || !strings.Contains(err.Error(), "no host audio") {
		t.Errorf("GetDevices error = %v", err)
	}
}

func TestNilDevices(t *testing.T) {
	orig := paLibDevicesFunc
	defer func() { paLibDevicesFunc = orig }()
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, nil
	}

	devices, err := paDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if devices == nil {
		t.Errorf("expected empty slice, got nil")
	}
}

func TestPortAudioNotInitialized(t *testing.T) {
	orig := paLibDevicesFunc
	defer func() { paLibDevicesFunc = orig }()
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	devices, err := paDevices()
	if err == nil || !strings.Contains(err.Error(), "PortAudio not initialized") {
		t.Errorf("expected 'PortAudio not initialized' error, got %v", err)
	}
	if devices != nil {
		t.Errorf("expected devices to be nil on error, got %v", devices)
	}
}

// SPDX-License-Identifier: MIT
//
// Package transport fans session telemetry out to external consumers.
package transport

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations must be safe for concurrent use and must not block the
// caller for longer than it takes to queue the message.
type Transport interface {
	Send(data any) error
	Close() error
}

// MultiTransport sends every message to each of its members.
type MultiTransport struct {
	mu      sync.RWMutex
	members []Transport
}

// NewMultiTransport combines the given transports. Nil entries are skipped.
func NewMultiTransport(ts ...Transport) *MultiTransport {
	m := &MultiTransport{}
	for _, t := range ts {
		if t != nil {
			m.members = append(m.members, t)
		}
	}
	return m
}

// Add appends a transport.
func (m *MultiTransport) Add(t Transport) {
	if t == nil {
		return
	}
	m.mu.Lock()
	m.members = append(m.members, t)
	m.mu.Unlock()
}

// Len returns the number of members.
func (m *MultiTransport) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Send delivers data to every member. A failing member does not stop
// delivery to the rest; all errors are returned joined.
func (m *MultiTransport) Send(data any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, t := range m.members {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member and forgets them.
func (m *MultiTransport) Close() error {
	m.mu.Lock()
	members := m.members
	m.members = nil
	m.mu.Unlock()

	var errs []error
	for _, t := range members {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = (*MultiTransport)(nil)

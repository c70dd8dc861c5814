// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	applog "cardio/internal/log"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// WebSocketPath is where clients subscribe to telemetry.
	WebSocketPath = "/ws"

	writeWait      = 2 * time.Second
	broadcastQueue = 256
	priorityQueue  = 64
)

// WebSocketOption configures a WebSocketTransport.
type WebSocketOption func(*WebSocketTransport)

// WithRateLimit caps broadcasts at perSecond messages with the given burst.
// Messages over the limit are dropped and counted.
func WithRateLimit(perSecond float64, burst int) WebSocketOption {
	return func(w *WebSocketTransport) {
		if perSecond > 0 && burst > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithUnlimited exempts messages matching keep from the rate limit. They
// go through their own queue and are written before rate-limited traffic.
func WithUnlimited(keep func(data any) bool) WebSocketOption {
	return func(w *WebSocketTransport) {
		w.unlimited = keep
	}
}

// WithHandler mounts an extra HTTP handler next to the websocket endpoint,
// e.g. the metrics scrape handler.
func WithHandler(pattern string, h http.Handler) WebSocketOption {
	return func(w *WebSocketTransport) {
		w.mux.Handle(pattern, h)
	}
}

// WebSocketTransport broadcasts every message as JSON to all connected
// clients.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
	server    *http.Server
	listener  net.Listener
	limiter   *rate.Limiter
	unlimited func(any) bool
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan []byte
	priority  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

// NewWebSocketTransport binds addr and starts serving. Bind errors are
// returned immediately.
func NewWebSocketTransport(addr string, opts ...WebSocketOption) (*WebSocketTransport, error) {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux:       http.NewServeMux(),
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, broadcastQueue),
		priority:  make(chan []byte, priorityQueue),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(wst)
	}
	wst.mux.HandleFunc(WebSocketPath, wst.handleWebSocket)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket transport: listen on %s: %w", addr, err)
	}
	wst.listener = ln
	wst.server = &http.Server{
		Handler:           wst.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wst.wg.Add(2)
	go func() {
		defer wst.wg.Done()
		applog.Infof("WebSocketTransport: Listening on %s", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	go func() {
		defer wst.wg.Done()
		wst.handleBroadcasts()
	}()
	return wst, nil
}

// Addr returns the bound address.
func (wst *WebSocketTransport) Addr() net.Addr {
	return wst.listener.Addr()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Dropped returns the number of messages discarded by the rate limiter or a
// full queue.
func (wst *WebSocketTransport) Dropped() uint64 {
	return wst.dropped.Load()
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	select {
	case <-wst.done:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = struct{}{}
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client %s connected, total: %d", conn.RemoteAddr(), n)

	// Clients never send; a read only returns once the peer goes away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	conn.Close()
	if ok {
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", n)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		// Drain priority messages first.
		select {
		case <-wst.done:
			return
		case payload := <-wst.priority:
			wst.write(payload)
			continue
		default:
		}
		select {
		case <-wst.done:
			return
		case payload := <-wst.priority:
			wst.write(payload)
		case payload := <-wst.broadcast:
			wst.write(payload)
		}
	}
}

func (wst *WebSocketTransport) write(payload []byte) {
	wst.clientsMu.Lock()
	var failed []*websocket.Conn
	for client := range wst.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			applog.Debugf("WebSocketTransport: Error sending to client: %v", err)
			failed = append(failed, client)
		}
	}
	wst.clientsMu.Unlock()
	for _, c := range failed {
		wst.drop(c)
	}
}

// Send encodes data as JSON and queues it for broadcast. Messages over the
// rate limit or beyond the queue capacity are dropped without error;
// messages exempted by WithUnlimited bypass the limiter.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return ErrClosed
	default:
	}
	queue := wst.broadcast
	if wst.unlimited != nil && wst.unlimited(data) {
		queue = wst.priority
	} else if wst.limiter != nil && !wst.limiter.Allow() {
		wst.dropped.Add(1)
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("websocket transport: encode %T: %w", data, err)
	}
	select {
	case queue <- payload:
	default:
		wst.dropped.Add(1)
	}
	return nil
}

// Close shuts the server down and disconnects all clients.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		wst.clientsMu.Lock()
		close(wst.done)
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]struct{})
		wst.clientsMu.Unlock()

		err = wst.server.Close()
		wst.wg.Wait()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)

// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "pulse/internal/log"
)

// WebSocketTransport broadcasts diagnostic frames to connected
// clients as JSON text messages on /diag.
//
// Thread Safety:
// - Uses a mutex for client map access
// - Rate limits broadcasts so slow clients see fewer frames, not
//   stale queues
type WebSocketTransport struct {
	clients      map[*websocket.Conn]bool
	clientsMutex sync.Mutex
	upgrader     websocket.Upgrader
	server       *http.Server

	lastSend        time.Time
	minSendInterval time.Duration
}

// NewWebSocketTransport starts an HTTP server on addr serving
// WebSocket upgrades at /diag. maxRate caps broadcasts per second;
// zero means unlimited.
func NewWebSocketTransport(addr string, maxRate float64) *WebSocketTransport {
	t := &WebSocketTransport{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Diagnostics tool, local use
			},
		},
	}
	if maxRate > 0 {
		t.minSendInterval = time.Duration(float64(time.Second) / maxRate)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/diag", t.handleWebSocket)
	t.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		applog.Infof("transport: diagnostics WebSocket listening on %s", addr)
		if err := t.server.ListenAndServe(); err != http.ErrServerClosed {
			applog.Errorf("transport: WebSocket server: %v", err)
		}
	}()

	return t
}

func (t *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("transport: WebSocket upgrade: %v", err)
		return
	}

	t.clientsMutex.Lock()
	t.clients[conn] = true
	t.clientsMutex.Unlock()

	// Drain the read side so pings and closes are processed; drop the
	// client on any read error.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				t.clientsMutex.Lock()
				delete(t.clients, conn)
				t.clientsMutex.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

// Send broadcasts a frame to all connected clients. Frames arriving
// faster than the configured rate are dropped, never queued.
func (t *WebSocketTransport) Send(frame *Frame) error {
	now := time.Now()
	if now.Sub(t.lastSend) < t.minSendInterval {
		return nil
	}
	t.lastSend = now

	jsonData, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	t.clientsMutex.Lock()
	for client := range t.clients {
		if err := client.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			client.Close()
			delete(t.clients, client)
		}
	}
	t.clientsMutex.Unlock()

	return nil
}

// Close shuts down the server and all client connections. Idempotent.
func (t *WebSocketTransport) Close() error {
	t.clientsMutex.Lock()
	for client := range t.clients {
		client.Close()
		delete(t.clients, client)
	}
	t.clientsMutex.Unlock()

	return t.server.Close()
}

var _ Transport = (*WebSocketTransport)(nil)

package api

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/logger"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// streamedEvents are forwarded to every websocket client.
var streamedEvents = []domain.EventType{
	domain.RunStarted,
	domain.RunStopped,
	domain.SampleCollected,
	domain.SampleFailed,
	domain.TickOverrun,
	domain.SummaryReported,
	domain.BudgetExhausted,
}

// sameOrigin accepts requests without an Origin header or whose Origin host
// matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

var upgrader = websocket.Upgrader{CheckOrigin: sameOrigin}

// WebSocketHub fans events and log lines out to connected clients.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan interface{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.Mutex // guards clients and serializes writes
	logCh      chan logger.LogEntry
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWebSocketHub starts a hub. A nil event bus streams log lines only.
func NewWebSocketHub(eb eventbus.Publisher) *WebSocketHub {
	h := &WebSocketHub{
		broadcast:  make(chan interface{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		clients:    make(map[*websocket.Conn]bool),
		done:       make(chan struct{}),
	}

	if eb != nil {
		for _, t := range streamedEvents {
			eb.Subscribe(t, func(e domain.Event) {
				h.send(gin.H{"type": "event", "data": e})
			})
		}
	}

	h.logCh = logger.Subscribe()
	go func() {
		for entry := range h.logCh {
			h.send(gin.H{"type": "log", "data": entry})
		}
	}()

	go h.run()
	return h
}

func (h *WebSocketHub) send(msg interface{}) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			logger.Debugf("WebSocket client connected (Total: %d)", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(message); err != nil {
					logger.Debugf("WebSocket write error: %v", err)
					h.drop(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop closes and forgets a client. Caller holds mu.
func (h *WebSocketHub) drop(client *websocket.Conn) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if err := client.Close(); err != nil {
		logger.Debugf("WebSocket close error: %v", err)
	}
	logger.Debugf("WebSocket client disconnected")
}

// HandleConnection upgrades the request and keeps the connection open until
// the client goes away or the hub is closed.
func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	select {
	case h.register <- ws:
	case <-h.done:
		_ = ws.Close()
		return
	}

	h.mu.Lock()
	if err := ws.WriteJSON(gin.H{"type": "ping", "timestamp": time.Now()}); err != nil {
		logger.Debugf("Failed to send initial ping: %v", err)
	}
	h.mu.Unlock()

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go h.ping(ws, stopPing)

	defer func() {
		select {
		case h.unregister <- ws:
		case <-h.done:
		}
	}()

	// Reads only drive the pong handler and detect disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHub) ping(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-stop:
			return
		}
		h.mu.Lock()
		if !h.clients[ws] {
			h.mu.Unlock()
			return
		}
		err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		h.mu.Unlock()
		if err != nil {
			logger.Debugf("WebSocket ping error: %v", err)
			return
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops forwarding. Safe to call twice.
func (h *WebSocketHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		logger.Unsubscribe(h.logCh)
	})
}

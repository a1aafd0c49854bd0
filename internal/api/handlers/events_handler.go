package handlers

import (
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	"norelock.dev/listenify/providerhost/internal/registry"
	"norelock.dev/listenify/providerhost/internal/utils"
	"norelock.dev/listenify/providerhost/pkg/websocket"
)

// eventBuffer is how many events a slow client may lag behind before dropping.
const eventBuffer = 64

// StreamMetrics receives event stream measurements.
type StreamMetrics interface {
	IncWSConnectionsActive()
	DecWSConnectionsActive()
	ObserveWSConnection(d time.Duration)
	IncWSEventsSent()
}

// EventsHandler streams registry changes over WebSocket.
type EventsHandler struct {
	registry *registry.Registry
	upgrader *gorilla.Upgrader
	config   websocket.Config
	metrics  StreamMetrics
	logger   *utils.Logger
}

// NewEventsHandler creates a new events handler. allowedOrigins follows the
// CORS list; "*" accepts any origin.
func NewEventsHandler(reg *registry.Registry, config websocket.Config, allowedOrigins []string, metrics StreamMetrics, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{
		registry: reg,
		upgrader: &gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		config:  config,
		metrics: metrics,
		logger:  logger.Named("events_handler"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Stream upgrades the request and forwards every registry event until the client leaves.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	// subscribe first so nothing committed after the handshake is missed
	events, unsubscribe := h.registry.Subscribe(eventBuffer)
	defer unsubscribe()

	conn, err := websocket.Upgrade(w, r, h.upgrader, h.config)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err.Error(), "ip", utils.GetRequestIP(r))
		return
	}

	start := time.Now()
	if h.metrics != nil {
		h.metrics.IncWSConnectionsActive()
		defer func() {
			h.metrics.DecWSConnectionsActive()
			h.metrics.ObserveWSConnection(time.Since(start))
		}()
	}
	h.logger.Debug("Event stream opened", "remote", conn.RemoteAddr())

	go conn.Keepalive()
	defer conn.Close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Event stream write failed", "error", err.Error())
				return
			}
			if h.metrics != nil {
				h.metrics.IncWSEventsSent()
			}
		case <-conn.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

package v1

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"

	"github.com/hrygo/tablesense/plugin/ai/agent"
)

const statusClientBuffer = 16

// StatusEvent is pushed to websocket clients on every status transition.
type StatusEvent struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

type statusClient struct {
	filename string // empty receives every session
	events   chan StatusEvent
}

// statusHub fans analyst status changes out to websocket clients.
type statusHub struct {
	mu      sync.RWMutex
	clients map[*statusClient]struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[*statusClient]struct{})}
}

func (h *statusHub) subscribe(filename string) *statusClient {
	c := &statusClient{filename: filename, events: make(chan StatusEvent, statusClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *statusHub) unsubscribe(c *statusClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// publish never blocks: a client that falls behind loses events.
func (h *statusHub) publish(sessionID string, status agent.Status) error {
	ev := StatusEvent{Filename: sessionID, Status: status.String()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.filename != "" && c.filename != sessionID {
			continue
		}
		select {
		case c.events <- ev:
		default:
			slog.Warn("dropping status event for slow websocket client", "file", sessionID, "status", ev.Status)
		}
	}
	return nil
}

func (h *statusHub) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StreamStatus pushes status transitions over a websocket. With ?file= only
// that dataset is streamed, starting with its current status.
// GET /api/data/status/ws
func (s *APIV1Service) StreamStatus(c echo.Context) error {
	filename := c.QueryParam("file")
	if filename != "" {
		filename = filepath.Base(filename)
	}
	ctx := c.Request().Context()

	server := websocket.Server{Handler: func(ws *websocket.Conn) {
		defer ws.Close()
		client := s.statusHub.subscribe(filename)
		defer s.statusHub.unsubscribe(client)

		if filename != "" {
			status, _ := s.Registry.Status(filename)
			if err := websocket.JSON.Send(ws, StatusEvent{Filename: filename, Status: status.String()}); err != nil {
				return
			}
		}

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			var discard string
			for {
				if err := websocket.Message.Receive(ws, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				return
			case ev := <-client.events:
				if err := websocket.JSON.Send(ws, ev); err != nil {
					slog.Debug("status stream closed", "file", filename, "error", err)
					return
				}
			}
		}
	}}
	server.ServeHTTP(c.Response(), c.Request())
	return nil
}

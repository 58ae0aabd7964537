package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/session"
)

// Event types pushed over /ws.
const (
	EventTemplatesChanged = "templates_changed"
	EventRunProgress      = "run_progress"
	EventRunStatus        = "run_status"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Event is one message pushed to websocket clients.
type Event struct {
	Type      string   `json:"type"`
	Templates []string `json:"templates,omitempty"`
	RunID     string   `json:"run_id,omitempty"`
	Status    string   `json:"status,omitempty"`
	Node      string   `json:"node,omitempty"`
	Value     int      `json:"value,omitempty"`
	Max       int      `json:"max,omitempty"`
}

var upgrader = websocket.Upgrader{
	// The form is served from the backend's origin, not ours.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// hub fans events out to every connected client. Slow clients drop
// events rather than block the sender.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: map[*client]struct{}{}, logger: logger}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("dropping event for slow client", "type", ev.Type)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	cl := &client{conn: conn, send: make(chan Event, clientBuffer)}
	s.hub.add(cl)
	s.logger.Debug("websocket client connected", "remote", c.Request.RemoteAddr)

	go func() {
		defer conn.Close()
		for ev := range cl.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Warn("failed to write websocket event", "error", err)
				s.hub.remove(cl)
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Debug("websocket client disconnected", "error", err)
			s.hub.remove(cl)
			return
		}
	}
}

// follow tracks sub in the background, broadcasting progress and the final
// status. stream is closed when tracking ends.
func (s *Server) follow(sub *session.Submission, stream EventStream) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer stream.Close()

		onProgress := func(p comfy.Progress) {
			s.hub.broadcast(Event{Type: EventRunProgress, RunID: sub.RunID, Node: p.Node, Value: p.Value, Max: p.Max})
		}
		status, err := s.wb.Track(s.base, sub, stream, onProgress)
		if err != nil {
			s.logger.Warn("stopped following run", "run_id", sub.RunID, "error", err)
			return
		}
		s.hub.broadcast(Event{Type: EventRunStatus, RunID: sub.RunID, Status: status})
	}()
}

package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Event types the run watcher reacts to.
const (
	EventRunEnd      = "cozygen_run_end"
	EventInterrupted = "execution_interrupted"
	EventError       = "execution_error"
	EventProgress    = "progress"
	EventExecuting   = "executing"
)

// ErrInterrupted reports that the backend interrupted the watched prompt.
var ErrInterrupted = errors.New("comfy: execution interrupted")

// Message is one JSON frame from the event stream.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type eventData struct {
	RunID     string `json:"run_id"`
	PromptID  string `json:"prompt_id"`
	Message   string `json:"exception_message"`
	NodeID    string `json:"node_id"`
	NodeType  string `json:"node_type"`
	Value     int    `json:"value"`
	Max       int    `json:"max"`
	Executing string `json:"node"`
}

// ExecutionError is an execution_error event for the watched prompt.
type ExecutionError struct {
	PromptID string
	NodeID   string
	NodeType string
	Message  string
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error in node %s (%s): %s", e.NodeID, e.NodeType, e.Message)
}

// Progress is reported while waiting for a run.
type Progress struct {
	Node  string
	Value int
	Max   int
}

// Events is a websocket subscription to the backend's event stream.
type Events struct {
	conn   *websocket.Conn
	logger *slog.Logger

	closeOnce sync.Once
}

// DialEvents opens the event stream for clientID. baseURL is the HTTP root;
// the scheme is switched to ws or wss.
func DialEvents(ctx context.Context, baseURL, clientID string, logger *slog.Logger) (*Events, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/ws")
	if err != nil {
		return nil, fmt.Errorf("parse event url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if clientID != "" {
		q := u.Query()
		q.Set("clientId", clientID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial events: %w", err)
	}
	return &Events{conn: conn, logger: logger}, nil
}

// Close closes the stream. Safe to call more than once.
func (e *Events) Close() error {
	var err error
	e.closeOnce.Do(func() { err = e.conn.Close() })
	return err
}

// Next returns the next text frame. Binary frames (previews) are skipped.
// Cancelling ctx closes the stream.
func (e *Events) Next(ctx context.Context) (Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = e.Close() })
	defer stop()

	for {
		kind, data, err := e.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Message{}, ctxErr
			}
			return Message{}, fmt.Errorf("read event: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			e.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		return msg, nil
	}
}

// WaitRun blocks until the run identified by runID (stamped on sinks) ends,
// or promptID is interrupted or fails. Events for other runs are ignored.
// onProgress, when non-nil, receives progress and executing events.
func (e *Events) WaitRun(ctx context.Context, runID, promptID string, onProgress func(Progress)) error {
	for {
		msg, err := e.Next(ctx)
		if err != nil {
			return err
		}
		var d eventData
		if len(msg.Data) > 0 {
			_ = json.Unmarshal(msg.Data, &d)
		}

		switch msg.Type {
		case EventRunEnd:
			if d.RunID == "" || d.RunID == runID {
				e.logger.Debug("run ended", "run_id", runID)
				return nil
			}
		case EventInterrupted:
			if d.PromptID == "" || d.PromptID == promptID {
				return ErrInterrupted
			}
		case EventError:
			if d.PromptID == "" || d.PromptID == promptID {
				return &ExecutionError{PromptID: d.PromptID, NodeID: d.NodeID, NodeType: d.NodeType, Message: d.Message}
			}
		case EventProgress:
			if onProgress != nil {
				onProgress(Progress{Node: d.NodeID, Value: d.Value, Max: d.Max})
			}
		case EventExecuting:
			if onProgress != nil && d.Executing != "" {
				onProgress(Progress{Node: d.Executing})
			}
		}
	}
}

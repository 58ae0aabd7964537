package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/testutil"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cozygen/get_choices", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("type") {
		case "loras":
			_, _ = io.WriteString(w, `{"choices": ["style\\ink.safetensors", " a.safetensors", "a.safetensors"]}`)
		default:
			http.Error(w, `{"error": "Invalid choice type"}`, http.StatusBadRequest)
		}
	})
	mux.HandleFunc("GET /cozygen/workflows", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"workflows": ["txt2img.json"]}`)
	})
	mux.HandleFunc("GET /cozygen/workflows/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("name") != "txt2img.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"2": {"class_type": "KSampler", "inputs": {}}, "1": {"class_type": "CozyGenOutput", "inputs": {}}}`)
	})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt   map[string]json.RawMessage `json:"prompt"`
			ClientID string                     `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Prompt) == 0 {
			http.Error(w, "bad prompt", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-" + body.ClientID, "number": len(body.Prompt)})
	})
	mux.HandleFunc("POST /interrupt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /queue", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"queue_running": [[0, "p-1"]], "queue_pending": [[1, "p-2"], [2, "p-3"]]}`)
	})
	mux.HandleFunc("POST /cozygen/upload_image", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("image")
		if err != nil {
			http.Error(w, `{"error": "Expected field 'image'"}`, http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(map[string]any{"filename": "u-" + hdr.Filename, "size": len(data)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientChoicesKeepBackendSpelling(t *testing.T) {
	c := NewClient(newBackend(t).URL)
	got, err := c.Choices(context.Background(), "loras")
	require.NoError(t, err)
	assert.Equal(t, []string{`style\ink.safetensors`, "a.safetensors"}, got)
}

func TestClientChoicesError(t *testing.T) {
	c := NewClient(newBackend(t).URL)
	_, err := c.Choices(context.Background(), "bogus")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "Invalid choice type")
}

func TestClientWorkflows(t *testing.T) {
	c := NewClient(newBackend(t).URL + "/")

	names, err := c.Workflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"txt2img.json"}, names)

	g, err := c.Workflow(context.Background(), "txt2img.json")
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"2", "1"}, g.IDs(), "document order preserved")

	_, err = c.Workflow(context.Background(), "missing.json")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientQueue(t *testing.T) {
	c := NewClient(newBackend(t).URL, WithClientID("abc"))
	g := testutil.MustParseGraph(t, `{"1": {"class_type": "CozyGenOutput", "inputs": {}}}`)

	res, err := c.Queue(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, "p-abc", res.PromptID)
	assert.Equal(t, 1, res.Number)
}

func TestClientInterrupt(t *testing.T) {
	assert.NoError(t, NewClient(newBackend(t).URL).Interrupt(context.Background()))
}

func TestClientCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(newBackend(t).URL).Choices(ctx, "loras")
	assert.True(t, errors.Is(err, context.Canceled))
}

func newEventServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.URL.Query().Get("clientId") != "abc" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1, 2})
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWaitRunMatchesRunID(t *testing.T) {
	srv := newEventServer(t, []string{
		`{"type": "status", "data": {}}`,
		`{"type": "progress", "data": {"value": 3, "max": 20, "node_id": "7"}}`,
		`{"type": "cozygen_run_end", "data": {"run_id": "someone-else"}}`,
		`{"type": "execution_interrupted", "data": {"prompt_id": "other-prompt"}}`,
		`{"type": "cozygen_run_end", "data": {"run_id": "run-1"}}`,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := DialEvents(ctx, srv.URL, "abc", nil)
	require.NoError(t, err)
	defer ev.Close()

	var progress []Progress
	err = ev.WaitRun(ctx, "run-1", "p-1", func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, []Progress{{Node: "7", Value: 3, Max: 20}}, progress)
}

func TestWaitRunInterrupted(t *testing.T) {
	srv := newEventServer(t, []string{`{"type": "execution_interrupted", "data": {"prompt_id": "p-1"}}`})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := DialEvents(ctx, srv.URL, "abc", nil)
	require.NoError(t, err)
	defer ev.Close()

	assert.ErrorIs(t, ev.WaitRun(ctx, "run-1", "p-1", nil), ErrInterrupted)
}

func TestWaitRunExecutionError(t *testing.T) {
	srv := newEventServer(t, []string{
		`{"type": "execution_error", "data": {"prompt_id": "p-1", "node_id": "4", "node_type": "KSampler", "exception_message": "out of memory"}}`,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev, err := DialEvents(ctx, srv.URL, "abc", nil)
	require.NoError(t, err)
	defer ev.Close()

	err = ev.WaitRun(ctx, "run-1", "p-1", nil)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "4", execErr.NodeID)
	assert.True(t, strings.Contains(execErr.Error(), "out of memory"))
}

func TestWaitRunContextCancelled(t *testing.T) {
	srv := newEventServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	ev, err := DialEvents(ctx, srv.URL, "abc", nil)
	require.NoError(t, err)
	defer ev.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, ev.WaitRun(ctx, "run-1", "p-1", nil), context.Canceled)
}

func TestClientQueueDepth(t *testing.T) {
	n, err := NewClient(newBackend(t).URL).QueueDepth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClientUploadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o644))

	up, err := NewClient(newBackend(t).URL).UploadImage(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, &Upload{Filename: "u-cat.png", Size: 16}, up)
}

func TestClientUploadImageErrors(t *testing.T) {
	c := NewClient(newBackend(t).URL)

	_, err := c.UploadImage(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = c.UploadImageFrom(context.Background(), "", strings.NewReader("x"))
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()
	_, err = NewClient(srv.URL).UploadImageFrom(context.Background(), "a.png", strings.NewReader("x"))
	assert.ErrorContains(t, err, "no filename")
}

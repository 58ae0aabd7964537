package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/session"
	"github.com/roach88/cozygen/internal/store"
	"github.com/roach88/cozygen/internal/telemetry"
	"github.com/roach88/cozygen/internal/templates"
	"github.com/roach88/cozygen/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const txt2img = `{
  "1": {"class_type": "CozyGenChoiceInput", "inputs": {"param_name": "sampler", "choice_type": "sampler", "priority": 1}},
  "2": {"class_type": "CozyGenIntInput", "inputs": {"param_name": "steps", "default_value": 20, "priority": 2}},
  "3": {"class_type": "KSampler", "inputs": {"sampler_name": ["1", 0], "steps": ["2", 0]}},
  "4": {"class_type": "CozyGenOutput", "inputs": {"images": ["3", 0]}}
}`

const img2img = `{
  "1": {"class_type": "CozyGenImageInput", "inputs": {"param_name": "source", "image": ""}},
  "2": {"class_type": "CozyGenOutput", "inputs": {"images": ["1", 0]}}
}`

type queueRecorder struct{ n int }

func (q *queueRecorder) Queue(context.Context, *graph.Graph) (*comfy.QueueResult, error) {
	q.n++
	return &comfy.QueueResult{PromptID: fmt.Sprintf("p%d", q.n)}, nil
}

type doneStream struct{ closed bool }

func (d *doneStream) WaitRun(_ context.Context, _, _ string, onProgress func(comfy.Progress)) error {
	onProgress(comfy.Progress{Node: "3", Value: 20, Max: 20})
	return nil
}

func (d *doneStream) Close() error {
	d.closed = true
	return nil
}

type fixture struct {
	srv    *Server
	router *gin.Engine
	stream *doneStream
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "txt2img.json"), []byte(txt2img), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img2img.json"), []byte(img2img), 0644))
	tpl := templates.NewDir(dir)

	st, err := store.Open(filepath.Join(t.TempDir(), "cozygen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	metrics := telemetry.New()
	wb := session.New(tpl,
		choices.NewResolver(testutil.NewCatalog(map[string][]string{"sampler": {"euler", "dpmpp"}})),
		st,
		session.WithSubmitter(&queueRecorder{}),
		session.WithMetrics(metrics),
		session.WithCompiler(compiler.New(
			compiler.WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
			compiler.WithRandomizer(compiler.NewPCGRandomizer(1, 2)),
		)),
	)

	stream := &doneStream{}
	srv := New(wb, tpl,
		WithMetricsHandler(metrics.Handler()),
		WithEventDialer(func(context.Context) (EventStream, error) { return stream, nil }),
	)
	return &fixture{srv: srv, router: srv.Handler(), stream: stream}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRoutesRegistered(t *testing.T) {
	f := newFixture(t)
	want := []string{
		"GET /health",
		"GET /metrics",
		"GET /ws",
		"GET /api/templates",
		"POST /api/templates/:name/load",
		"GET /api/view",
		"PUT /api/values/:param",
		"POST /api/images/:param",
		"PUT /api/randomize/:param",
		"PUT /api/bypass/:param",
		"POST /api/compile",
		"POST /api/submit",
		"GET /api/presets",
		"POST /api/presets",
		"POST /api/presets/:name/apply",
		"DELETE /api/presets/:name",
		"GET /api/history",
		"GET /api/history/:run_id",
	}
	var got []string
	for _, r := range f.router.Routes() {
		got = append(got, r.Method+" "+r.Path)
	}
	assert.ElementsMatch(t, want, got)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealth_CheckFails(t *testing.T) {
	f := newFixture(t)
	srv := New(f.srv.wb, f.srv.templates, WithHealthCheck(func(context.Context) error {
		return errors.New("database is closed")
	}))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","error":"database is closed"}`, w.Body.String())
}

func TestTemplatesAndLoad(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/templates", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"templates":["img2img.json","txt2img.json"]}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/view", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/templates/missing.json/load", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.Equal(t, "txt2img.json", view["template"])
	controls := view["controls"].([]any)
	require.Len(t, controls, 2)
	first := controls[0].(map[string]any)
	assert.Equal(t, "sampler", first["param_name"])
	assert.Equal(t, "euler", first["value"])
}

func TestUpdateState(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/values/steps", `{"value": 30}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/values/cfg", `{"value": 7}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/values/steps", `{}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/bypass/sampler", `{"on": true}`).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/randomize/steps", `{"on": false}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/randomize/steps", `{"enabled": true}`).Code)

	view := decode(t, f.do(t, http.MethodGet, "/api/view", ""))
	controls := view["controls"].([]any)
	assert.Equal(t, true, controls[0].(map[string]any)["bypass"])
	assert.Equal(t, float64(30), controls[1].(map[string]any)["value"])
}

func TestCompile(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "").Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/values/sampler", `{"value": "dpmpp"}`).Code)

	w := f.do(t, http.MethodPost, "/api/compile", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, "run-1", out["run_id"])
	assert.NotEmpty(t, out["fingerprint"])
	g := out["graph"].(map[string]any)
	sampler := g["1"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, "dpmpp", sampler["value"])
}

func TestCompileMissingImage(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/img2img.json/load", "").Code)

	w := f.do(t, http.MethodPost, "/api/compile", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, string(compiler.ErrCodeMissingImage), decode(t, w)["code"])
}

func TestSubmitFollowsRun(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "").Code)

	w := f.do(t, http.MethodPost, "/api/submit", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	sub := decode(t, w)
	assert.Equal(t, "run-1", sub["run_id"])
	assert.Equal(t, "p1", sub["prompt_id"])

	f.srv.running.Wait()
	assert.True(t, f.stream.closed)

	w = f.do(t, http.MethodGet, "/api/history/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	run := decode(t, w)
	assert.Equal(t, store.RunFinished, run["status"])
	assert.Equal(t, "txt2img.json", run["template"])

	w = f.do(t, http.MethodGet, "/api/history?template=txt2img.json&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["runs"], 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/history?limit=many", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/history/nope", "").Code)

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `cozygen_submissions_total{status="finished"} 1`)
}

// multipartImage builds a request carrying data as the "image" field.
func multipartImage(t *testing.T, path, filename string, data []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, path, body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestUploadImage(t *testing.T) {
	var received []string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/cozygen/upload_image" {
			http.NotFound(w, r)
			return
		}
		file, hdr, err := r.FormFile("image")
		if err != nil {
			http.Error(w, `{"error": "Expected field 'image'"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		received = append(received, string(data))
		fmt.Fprintf(w, `{"filename": "abc_%s", "size": %d}`, hdr.Filename, len(data))
	}))
	defer backend.Close()

	f := newFixture(t)
	router := New(f.srv.wb, f.srv.templates, WithImageUploader(comfy.NewClient(backend.URL))).Handler()
	serve := func(r *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/img2img.json/load", "").Code)

	w := serve(multipartImage(t, "/api/images/source", "cat.png", []byte("pixels")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"param_name":"source","filename":"abc_cat.png","size":6}`, w.Body.String())
	assert.Equal(t, []string{"pixels"}, received)

	view := decode(t, f.do(t, http.MethodGet, "/api/view", ""))
	assert.Equal(t, "abc_cat.png", view["controls"].([]any)[0].(map[string]any)["value"])
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/compile", "").Code, "image is no longer missing")

	assert.Equal(t, http.StatusNotFound, serve(multipartImage(t, "/api/images/nope", "a.png", []byte("x"))).Code)
	assert.Equal(t, http.StatusBadRequest, serve(httptest.NewRequest(http.MethodPost, "/api/images/source", nil)).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(multipartImage(t, "/api/images/steps", "a.png", []byte("x"))).Code)
	assert.Len(t, received, 1, "rejected uploads never reach the backend")
}

func TestUploadImageNotConfigured(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/img2img.json/load", "").Code)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, multipartImage(t, "/api/images/source", "cat.png", []byte("x")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPresets(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/templates/txt2img.json/load", "").Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/presets", `{}`).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/presets", `{"name": "fast"}`).Code)

	w := f.do(t, http.MethodGet, "/api/presets", "")
	assert.JSONEq(t, `{"presets":["fast"]}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/presets/fast/apply", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":["sampler","steps"]}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/presets/fast", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/presets/fast/apply", "").Code)
}

func TestEventsBroadcastTemplateChanges(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		f.srv.hub.mu.Lock()
		defer f.srv.hub.mu.Unlock()
		return len(f.srv.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	f.srv.TemplatesChanged([]string{"txt2img.json"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventTemplatesChanged, ev.Type)
	assert.Equal(t, []string{"txt2img.json"}, ev.Templates)
}

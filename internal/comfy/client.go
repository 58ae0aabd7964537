// Package comfy talks to the generation backend: option catalogs, stored
// workflow templates, the prompt queue, and the websocket event stream.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/cozygen/internal/choices"
	"github.com/roach88/cozygen/internal/graph"
)

// DefaultTimeout bounds every HTTP request.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx backend response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

// Client is an HTTP client for one backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ choices.Catalog = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClientID sets the id sent with queued prompts; event streams opened
// with the same id receive that prompt's events.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at baseURL, e.g.
// "http://127.0.0.1:8188".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the id sent with queued prompts.
func (c *Client) ClientID() string { return c.clientID }

type choicesResponse struct {
	Choices []string `json:"choices"`
}

// Choices fetches the option list for category. Entries are trimmed and
// deduplicated but otherwise kept as the backend sent them.
func (c *Client) Choices(ctx context.Context, category string) ([]string, error) {
	var resp choicesResponse
	path := "/cozygen/get_choices?type=" + url.QueryEscape(category)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return choices.Clean(resp.Choices), nil
}

type workflowsResponse struct {
	Workflows []string `json:"workflows"`
}

// Workflows lists the template names stored on the backend.
func (c *Client) Workflows(ctx context.Context) ([]string, error) {
	var resp workflowsResponse
	if err := c.do(ctx, http.MethodGet, "/cozygen/workflows", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// Workflow fetches one stored template.
func (c *Client) Workflow(ctx context.Context, name string) (*graph.Graph, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/cozygen/workflows/"+url.PathEscape(name), nil, &raw); err != nil {
		return nil, err
	}
	g, err := graph.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", name, err)
	}
	return g, nil
}

type queueRequest struct {
	Prompt   *graph.Graph `json:"prompt"`
	ClientID string       `json:"client_id,omitempty"`
}

// QueueResult is the backend's acknowledgement of a queued prompt.
type QueueResult struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors,omitempty"`
}

// Queue submits a compiled graph for execution.
func (c *Client) Queue(ctx context.Context, g *graph.Graph) (*QueueResult, error) {
	var resp QueueResult
	if err := c.do(ctx, http.MethodPost, "/prompt", queueRequest{Prompt: g, ClientID: c.clientID}, &resp); err != nil {
		return nil, err
	}
	if resp.PromptID == "" {
		return nil, fmt.Errorf("queue prompt: backend returned no prompt_id")
	}
	c.logger.Debug("queued prompt", "prompt_id", resp.PromptID, "number", resp.Number)
	return &resp, nil
}

// Interrupt stops the currently executing prompt.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/interrupt", nil, nil)
}

type queueResponse struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// QueueDepth returns how many prompts are running or waiting on the backend.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	var resp queueResponse
	if err := c.do(ctx, http.MethodGet, "/queue", nil, &resp); err != nil {
		return 0, err
	}
	return len(resp.Running) + len(resp.Pending), nil
}

// Upload is the backend's record of a stored input image.
type Upload struct {
	// Filename is the name the backend saved the image under; image
	// controls take it as their value.
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// UploadImage sends the file at path to the backend's input directory.
func (c *Client) UploadImage(ctx context.Context, path string) (*Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	defer f.Close()
	return c.UploadImageFrom(ctx, filepath.Base(path), f)
}

// UploadImageFrom streams r to the backend as a multipart "image" field
// named filename.
func (c *Client) UploadImageFrom(ctx context.Context, filename string, r io.Reader) (*Upload, error) {
	if filename == "" {
		return nil, fmt.Errorf("upload image: empty filename")
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("image", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var resp Upload
	err := c.send(ctx, http.MethodPost, "/cozygen/upload_image", mw.FormDataContentType(), pr, &resp)
	// Unblocks the writer when the request failed before draining the pipe.
	pr.Close()
	if err != nil {
		return nil, err
	}
	if resp.Filename == "" {
		return nil, fmt.Errorf("upload image: backend returned no filename")
	}
	c.logger.Debug("uploaded image", "filename", resp.Filename, "size", resp.Size)
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if body == nil {
		return c.send(ctx, method, path, "", nil, out)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.send(ctx, method, path, "application/json", bytes.NewReader(data), out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("backend request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

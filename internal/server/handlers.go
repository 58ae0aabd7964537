package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/session"
	"github.com/roach88/cozygen/internal/store"
	"github.com/roach88/cozygen/internal/templates"
)

type valueRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

type flagRequest struct {
	On *bool `json:"on" binding:"required"`
}

type presetRequest struct {
	Name string `json:"name" binding:"required,max=128"`
}

// compileResponse is the body of /api/compile.
type compileResponse struct {
	RunID       string                  `json:"run_id"`
	Fingerprint string                  `json:"fingerprint"`
	MetaText    string                  `json:"meta_text,omitempty"`
	Bypass      []compiler.BypassResult `json:"bypass,omitempty"`
	Graph       *graph.Graph            `json:"graph"`
}

// RunView is a history entry with its JSON columns inlined.
type RunView struct {
	Seq         int64           `json:"seq"`
	RunID       string          `json:"run_id"`
	PromptID    string          `json:"prompt_id,omitempty"`
	Template    string          `json:"template"`
	Fingerprint string          `json:"fingerprint"`
	FormData    json.RawMessage `json:"form_data"`
	Randomize   json.RawMessage `json:"randomize"`
	Bypass      json.RawMessage `json:"bypass"`
	MetaText    string          `json:"meta_text,omitempty"`
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewRunView converts a stored run.
func NewRunView(r store.Run) RunView {
	return RunView{
		Seq:         r.Seq,
		RunID:       r.RunID,
		PromptID:    r.PromptID,
		Template:    r.Template,
		Fingerprint: r.Fingerprint,
		FormData:    rawOrEmpty(r.FormData),
		Randomize:   rawOrEmpty(r.Randomize),
		Bypass:      rawOrEmpty(r.Bypass),
		MetaText:    r.MetaText,
		Status:      r.Status,
		SubmittedAt: r.SubmittedAt,
	}
}

func rawOrEmpty(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

// errorResponse writes err with a status derived from its kind.
func errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": err.Error()}

	var compileErr *compiler.CompileError
	var apiErr *comfy.APIError
	switch {
	case errors.Is(err, session.ErrNoTemplate), errors.Is(err, session.ErrStaleEpoch):
		status = http.StatusConflict
	case errors.Is(err, session.ErrUnknownControl),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, templates.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNotImageControl):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNoSubmitter):
		status = http.StatusServiceUnavailable
	case errors.As(err, &compileErr):
		status = http.StatusUnprocessableEntity
		body["code"] = compileErr.Code
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) listTemplates(c *gin.Context) {
	names, err := s.templates.List()
	if err != nil {
		errorResponse(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": names})
}

func (s *Server) loadTemplate(c *gin.Context) {
	v, err := s.wb.Load(c.Request.Context(), c.Param("name"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) view(c *gin.Context) {
	v, err := s.wb.View()
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) setValue(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.wb.SetValue(c.Request.Context(), c.Param("param"), req.Value); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// uploadImage forwards a multipart "image" file to the backend and sets the
// control to the name the backend stored it under.
func (s *Server) uploadImage(c *gin.Context) {
	if s.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image upload is not configured"})
		return
	}
	ctx := c.Request.Context()
	param := c.Param("param")
	if err := s.wb.CheckImage(param); err != nil {
		errorResponse(c, err)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		badRequest(c, err)
		return
	}
	file, err := fh.Open()
	if err != nil {
		errorResponse(c, err)
		return
	}
	defer file.Close()

	up, err := s.uploader.UploadImageFrom(ctx, fh.Filename, file)
	if err != nil {
		errorResponse(c, err)
		return
	}
	raw, err := json.Marshal(up.Filename)
	if err != nil {
		errorResponse(c, err)
		return
	}
	if err := s.wb.SetValue(ctx, param, raw); err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"param_name": param, "filename": up.Filename, "size": up.Size})
}

func (s *Server) setRandomize(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.wb.SetRandomize(c.Request.Context(), c.Param("param"), *req.On); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setBypass(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.wb.SetBypass(c.Request.Context(), c.Param("param"), *req.On); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) compile(c *gin.Context) {
	out, err := s.wb.Compile(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, compileResponse{
		RunID:       out.RunID,
		Fingerprint: out.Fingerprint,
		MetaText:    out.MetaText,
		Bypass:      out.Bypass,
		Graph:       out.Graph,
	})
}

func (s *Server) submit(c *gin.Context) {
	ctx := c.Request.Context()

	var stream EventStream
	if s.dial != nil {
		var err error
		if stream, err = s.dial(ctx); err != nil {
			// The run can still be queued; it just won't be followed.
			s.logger.Warn("event stream unavailable", "error", err)
			stream = nil
		}
	}

	sub, err := s.wb.Submit(ctx)
	if err != nil {
		if stream != nil {
			stream.Close()
		}
		errorResponse(c, err)
		return
	}
	if stream != nil {
		s.follow(sub, stream)
	}
	c.JSON(http.StatusAccepted, sub)
}

func (s *Server) listPresets(c *gin.Context) {
	names, err := s.wb.ListPresets(c.Request.Context())
	if err != nil {
		errorResponse(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"presets": names})
}

func (s *Server) savePreset(c *gin.Context) {
	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.wb.SavePreset(c.Request.Context(), req.Name); err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

func (s *Server) applyPreset(c *gin.Context) {
	res, err := s.wb.ApplyPreset(c.Request.Context(), c.Param("name"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) deletePreset(c *gin.Context) {
	if err := s.wb.DeletePreset(c.Request.Context(), c.Param("name")); err != nil {
		errorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) history(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.wb.History(c.Request.Context(), c.Query("template"), limit)
	if err != nil {
		errorResponse(c, err)
		return
	}
	out := make([]RunView, len(runs))
	for i, r := range runs {
		out[i] = NewRunView(r)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) historyEntry(c *gin.Context) {
	run, err := s.wb.HistoryEntry(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewRunView(run))
}

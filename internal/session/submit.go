package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/compiler"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/store"
)

// ErrNoSubmitter is returned by Submit when the workbench was built
// without a backend.
var ErrNoSubmitter = errors.New("session: no submitter configured")

// Submission is an accepted run.
type Submission struct {
	RunID    string             `json:"run_id"`
	PromptID string             `json:"prompt_id"`
	Seq      int64              `json:"seq"`
	Compiled *compiler.Compiled `json:"-"`
}

// Submit compiles the current template and queues it. On acceptance the
// randomized draws become that template's form state, the state is
// persisted and a history entry is recorded. Both go to the template that
// was compiled even if another one was loaded while the backend answered.
func (w *Workbench) Submit(ctx context.Context) (*Submission, error) {
	if w.submitter == nil {
		return nil, ErrNoSubmitter
	}
	out, cur, req, err := w.compile(ctx)
	if err != nil {
		return nil, err
	}

	res, err := w.submitter.Queue(ctx, out.Graph)
	if err != nil {
		w.observeSubmit("rejected")
		return nil, fmt.Errorf("submit run %s: %w", out.RunID, err)
	}
	w.observeSubmit(store.RunQueued)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != cur {
		w.logger.Warn("template changed while submitting", "template", cur.name, "run_id", out.RunID)
	}
	// Only randomized draws flow back; other values may have been edited
	// since the compile started.
	for _, name := range req.Randomize.Set() {
		if v, ok := out.State[name]; ok {
			cur.state[name] = v
		}
	}
	if err := w.persistState(ctx, cur); err != nil {
		return nil, err
	}

	formData, err := form.Encode(out.State)
	if err != nil {
		return nil, err
	}
	randomize, _ := json.Marshal(req.Randomize)
	bypass, _ := json.Marshal(req.Bypass)
	seq, err := w.store.AppendRun(ctx, store.Run{
		RunID:       out.RunID,
		PromptID:    res.PromptID,
		Template:    cur.name,
		Fingerprint: out.Fingerprint,
		FormData:    string(formData),
		Randomize:   string(randomize),
		Bypass:      string(bypass),
		MetaText:    out.MetaText,
		Status:      store.RunQueued,
		SubmittedAt: w.now(),
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("run submitted", "template", cur.name, "run_id", out.RunID, "prompt_id", res.PromptID)
	return &Submission{RunID: out.RunID, PromptID: res.PromptID, Seq: seq, Compiled: out}, nil
}

// Tracker waits for a queued run to end on the backend.
type Tracker interface {
	WaitRun(ctx context.Context, runID, promptID string, onProgress func(comfy.Progress)) error
}

// Track blocks until sub ends and records its final status. A cancelled
// ctx leaves the run queued and returns the context error.
func (w *Workbench) Track(ctx context.Context, sub *Submission, t Tracker, onProgress func(comfy.Progress)) (string, error) {
	err := t.WaitRun(ctx, sub.RunID, sub.PromptID, onProgress)
	var execErr *comfy.ExecutionError
	status := store.RunFinished
	switch {
	case err == nil:
	case errors.Is(err, comfy.ErrInterrupted):
		status = store.RunInterrupted
	case errors.As(err, &execErr):
		status = store.RunFailed
		w.logger.Warn("run failed", "run_id", sub.RunID, "node", execErr.NodeID, "error", execErr.Message)
	default:
		return "", err
	}
	if err := w.MarkRun(ctx, sub.RunID, status); err != nil {
		return status, err
	}
	return status, nil
}

// MarkRun records the final status of a submitted run.
func (w *Workbench) MarkRun(ctx context.Context, runID, status string) error {
	if err := w.store.SetRunStatus(ctx, runID, status, ""); err != nil {
		return err
	}
	w.observeSubmit(status)
	return nil
}

// History lists runs for template, newest first. An empty template lists
// all runs.
func (w *Workbench) History(ctx context.Context, template string, limit int) ([]store.Run, error) {
	return w.store.Runs(ctx, template, limit)
}

// HistoryEntry loads one run.
func (w *Workbench) HistoryEntry(ctx context.Context, runID string) (store.Run, error) {
	return w.store.Run(ctx, runID)
}

func (w *Workbench) observeSubmit(status string) {
	if w.metrics != nil {
		w.metrics.ObserveSubmit(status)
	}
}

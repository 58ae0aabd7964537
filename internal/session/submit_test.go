package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/comfy"
	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
	"github.com/roach88/cozygen/internal/store"
)

type scriptedTracker struct {
	progress []comfy.Progress
	err      error
}

func (s scriptedTracker) WaitRun(_ context.Context, _, _ string, onProgress func(comfy.Progress)) error {
	for _, p := range s.progress {
		onProgress(p)
	}
	return s.err
}

func TestTrackRecordsFinalStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"finished", nil, store.RunFinished},
		{"interrupted", comfy.ErrInterrupted, store.RunInterrupted},
		{"failed", &comfy.ExecutionError{NodeID: "4", Message: "out of memory"}, store.RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, mapSource{"txt2img.json": txt2img})
			ctx := context.Background()
			_, err := f.wb.Load(ctx, "txt2img.json")
			require.NoError(t, err)
			sub, err := f.wb.Submit(ctx)
			require.NoError(t, err)

			var seen []comfy.Progress
			tracker := scriptedTracker{progress: []comfy.Progress{{Node: "4", Value: 1, Max: 20}}, err: tt.err}
			status, err := f.wb.Track(ctx, sub, tracker, func(p comfy.Progress) { seen = append(seen, p) })
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Len(t, seen, 1)

			run, err := f.wb.HistoryEntry(ctx, sub.RunID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.Status)
		})
	}
}

func TestTrackCancelledLeavesRunQueued(t *testing.T) {
	f := newFixture(t, mapSource{"txt2img.json": txt2img})
	ctx := context.Background()
	_, err := f.wb.Load(ctx, "txt2img.json")
	require.NoError(t, err)
	sub, err := f.wb.Submit(ctx)
	require.NoError(t, err)

	_, err = f.wb.Track(ctx, sub, scriptedTracker{err: context.Canceled}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	run, err := f.wb.HistoryEntry(ctx, sub.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunQueued, run.Status)
}

const otherTemplate = `{
  "1": {"class_type": "CozyGenSeedInput", "inputs": {"param_name": "seed", "seed": 99}},
  "2": {"class_type": "CozyGenOutput", "inputs": {"images": ["1", 0]}}
}`

// loadingSubmitter switches the workbench to another template while the
// backend is answering.
type loadingSubmitter struct {
	wb   *Workbench
	next string
}

func (s *loadingSubmitter) Queue(ctx context.Context, _ *graph.Graph) (*comfy.QueueResult, error) {
	if _, err := s.wb.Load(ctx, s.next); err != nil {
		return nil, err
	}
	return &comfy.QueueResult{PromptID: "prompt-1"}, nil
}

func TestSubmitRecordsCompiledTemplateAfterSwitch(t *testing.T) {
	f := newFixture(t, mapSource{"txt2img.json": txt2img, "other.json": otherTemplate})
	ctx := context.Background()

	_, err := f.wb.Load(ctx, "other.json")
	require.NoError(t, err)
	require.NoError(t, f.wb.SetRandomize(ctx, "seed", true))

	_, err = f.wb.Load(ctx, "txt2img.json")
	require.NoError(t, err)
	require.NoError(t, f.wb.SetRandomize(ctx, "seed", true))

	f.wb.submitter = &loadingSubmitter{wb: f.wb, next: "other.json"}
	sub, err := f.wb.Submit(ctx)
	require.NoError(t, err)

	run, err := f.wb.HistoryEntry(ctx, sub.RunID)
	require.NoError(t, err)
	assert.Equal(t, "txt2img.json", run.Template)
	assert.Contains(t, run.FormData, `"sampler"`)

	v, err := f.wb.View()
	require.NoError(t, err)
	assert.Equal(t, "other.json", v.Template)
	assert.Equal(t, int64(99), controlByName(t, v, "seed").Value, "draw must not leak into the new template")

	saved, ok, err := f.store.Get(ctx, FormDataKey("txt2img.json"))
	require.NoError(t, err)
	require.True(t, ok)
	state, err := form.ParseSaved([]byte(saved))
	require.NoError(t, err)
	drawn, err := json.Marshal(form.ToAny(sub.Compiled.State["seed"]))
	require.NoError(t, err)
	assert.JSONEq(t, string(drawn), string(state["seed"]))
}

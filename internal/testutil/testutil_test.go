package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/graph"
)

func TestFixedRunIDGenerator(t *testing.T) {
	gen := NewFixedRunIDGenerator("run-1")
	assert.Equal(t, "run-1", gen.Generate())
	assert.Equal(t, "run-1", gen.Generate())

	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(map[string][]string{"sampler": {"euler"}})
	c.Errors["vae"] = errors.New("boom")

	list, err := c.Choices(context.Background(), "sampler")
	require.NoError(t, err)
	assert.Equal(t, []string{"euler"}, list)

	list[0] = "mutated"
	again, _ := c.Choices(context.Background(), "sampler")
	assert.Equal(t, "euler", again[0])

	_, err = c.Choices(context.Background(), "vae")
	assert.EqualError(t, err, "boom")

	_, err = c.Choices(context.Background(), "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"missing", "sampler", "sampler", "vae"}, c.Calls())
}

func TestCatalogConcurrentCalls(t *testing.T) {
	c := NewCatalog(map[string][]string{"a": {"x"}})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Choices(context.Background(), "a")
		}()
	}
	wg.Wait()
	assert.Len(t, c.Calls(), 20)
}

func TestMustParseGraph(t *testing.T) {
	g := MustParseGraph(t, `{"1": {"class_type": "X", "inputs": {"a": 1}}}`)
	assert.Equal(t, graph.Int(1), Input(t, g, "1", "a"))
}

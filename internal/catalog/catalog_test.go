package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cozygen/internal/testutil"
)

func TestStaticChoices(t *testing.T) {
	s := NewStatic(map[string][]string{
		"samplers": {"euler", " euler ", "dpmpp_2m"},
		"loras":    {`style\ink.safetensors`},
	})

	got, err := s.Choices(context.Background(), "samplers")
	require.NoError(t, err)
	assert.Equal(t, []string{"euler", "dpmpp_2m"}, got)

	got[0] = "mutated"
	again, _ := s.Choices(context.Background(), "samplers")
	assert.Equal(t, "euler", again[0])

	loras, err := s.Choices(context.Background(), "loras")
	require.NoError(t, err)
	assert.Equal(t, []string{`style\ink.safetensors`}, loras, "entries keep the catalog spelling")

	_, err = s.Choices(context.Background(), "vae")
	assert.True(t, errors.Is(err, ErrUnknownCategory))

	assert.Equal(t, []string{"loras", "samplers"}, s.Categories())
}

func TestStaticCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStatic(nil).Choices(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("samplers: [euler, dpmpp]\nloras:\n  - a.safetensors\n"), 0o644))

	s, err := LoadStatic(path)
	require.NoError(t, err)
	got, err := s.Choices(context.Background(), "samplers")
	require.NoError(t, err)
	assert.Equal(t, []string{"euler", "dpmpp"}, got)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// unreachableRedis points at a port nothing listens on.
func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestCachedFallsThroughWhenRedisDown(t *testing.T) {
	upstream := testutil.NewCatalog(map[string][]string{"samplers": {"euler", "euler", "ddim"}})
	client := unreachableRedis()
	defer client.Close()

	c := NewCached(client, upstream)
	got, err := c.Choices(context.Background(), "samplers")
	require.NoError(t, err)
	assert.Equal(t, []string{"euler", "ddim"}, got)
	assert.Equal(t, []string{"samplers"}, upstream.Calls())
}

func TestCachedPropagatesUpstreamError(t *testing.T) {
	upstream := testutil.NewCatalog(nil)
	upstream.Errors["loras"] = errors.New("backend offline")
	client := unreachableRedis()
	defer client.Close()

	_, err := NewCached(client, upstream).Choices(context.Background(), "loras")
	assert.EqualError(t, err, "backend offline")
}

func TestCachedRoundTripAgainstRedis(t *testing.T) {
	url := os.Getenv("COZYGEN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COZYGEN_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	upstream := testutil.NewCatalog(map[string][]string{"test_category": {"a", "b"}})
	c := NewCached(client, upstream, WithTTL(time.Minute))
	require.NoError(t, c.Invalidate(ctx, "test_category"))

	first, err := c.Choices(ctx, "test_category")
	require.NoError(t, err)
	second, err := c.Choices(ctx, "test_category")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, upstream.Calls(), 1, "second call served from cache")
	require.NoError(t, c.Invalidate(ctx, "test_category"))
}

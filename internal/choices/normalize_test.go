package choices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "models/a.safetensors", Normalize("  models\\a.safetensors "))
	assert.Equal(t, "caf\u00e9", Normalize("cafe\u0301"))
}

func TestPick(t *testing.T) {
	catalog := []string{"models/a.safetensors", "models/b.safetensors"}

	assert.Equal(t, "models/a.safetensors", Pick(catalog, "models\\a.safetensors"))
	assert.Equal(t, "models/b.safetensors", Pick(catalog, " models/b.safetensors"))
	assert.Equal(t, "models/a.safetensors", Pick(catalog, "missing"))
	assert.Equal(t, "", Pick(nil, "missing"))
}

func TestMatchReturnsCatalogSpelling(t *testing.T) {
	got, ok := Match([]string{`dir\x.ckpt`}, "dir/x.ckpt")
	assert.True(t, ok)
	assert.Equal(t, `dir\x.ckpt`, got)
}

func TestClean(t *testing.T) {
	assert.Equal(t,
		[]string{`a\b`, "a/b", "c", "caf\u00e9", "cafe\u0301"},
		Clean([]string{`a\b`, " a/b ", "", "c", "c ", "caf\u00e9", "cafe\u0301"}),
	)
}

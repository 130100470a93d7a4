package token

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRendering, StatusReady, StatusDirty, StatusSwapped, StatusError} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("queued").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatusRenderable(t *testing.T) {
	assert.True(t, StatusPending.Renderable())
	assert.True(t, StatusDirty.Renderable())
	assert.True(t, StatusError.Renderable())

	assert.False(t, StatusRendering.Renderable())
	assert.False(t, StatusReady.Renderable())
	assert.False(t, StatusSwapped.Renderable())
}

func TestID(t *testing.T) {
	assert.Equal(t, "BG_3fa91c22", ID("BG", "3fa91c22"))
}

func TestPathDerivation(t *testing.T) {
	dir := RenderDir("/cache", "BG_3fa91c22")
	assert.Equal(t, filepath.Join("/cache", "renders", "BG_3fa91c22"), dir)

	frame := FirstFramePath("/cache", "BG_3fa91c22", "png")
	assert.Equal(t, filepath.Join(dir, "BG_3fa91c22_00000.png"), frame)
}

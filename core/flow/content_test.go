package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultContent(t *testing.T) {
	c, err := DefaultContent()
	require.NoError(t, err)
	assert.Len(t, c.Weekdays, 7)
	assert.Equal(t, "Dom", c.Weekdays[0])
	assert.Contains(t, c.Intents.No, "no")
	assert.Contains(t, c.Messages.Confirmada, "{hora}")
}

func TestLoadContentOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mensajes:\n  despedida: \"Chao\"\n"), 0o600))

	c, err := LoadContent(path)
	require.NoError(t, err)
	assert.Equal(t, "Chao", c.Messages.Despedida)
	assert.NotEmpty(t, c.Messages.Bienvenida)
}

func TestLoadContentRejectsEmptyMessage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mensajes:\n  fallback: \"\"\n"), 0o600))

	_, err := LoadContent(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback")
}

func TestFill(t *testing.T) {
	got := fill("{nombre}: {fecha} {hora}", "2026-03-05", "09:00", "Carla")
	assert.Equal(t, "Carla: 2026-03-05 09:00", got)
}

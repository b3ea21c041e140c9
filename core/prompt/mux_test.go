package prompt

import (
	"context"
	"testing"

	"github.com/m3rciful/agendabot/core/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxRoutesByChannel(t *testing.T) {
	wa, tg := &fakeTransport{}, &fakeTransport{}
	m := NewMux()
	m.Register("wa", wa)
	m.Register("tg", tg)

	waCtx := logger.WithEventMeta(context.Background(), "wa", "569", 1)
	tgCtx := logger.WithEventMeta(context.Background(), "tg", "tg42", 1)
	require.NoError(t, m.SendText(waCtx, "569", "hola"))
	require.NoError(t, m.SendButtons(tgCtx, "tg42", "elige", []Button{{ID: "x", Title: "X"}}))
	require.NoError(t, m.SendList(tgCtx, "tg42", List{Body: "lista"}))

	require.Len(t, wa.out, 1)
	assert.Equal(t, "hola", wa.out[0].body)
	require.Len(t, tg.out, 2)
	assert.Equal(t, "list", tg.out[1].kind)
}

func TestMuxUnknownChannel(t *testing.T) {
	m := NewMux()
	err := m.SendText(context.Background(), "1", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transport")
}

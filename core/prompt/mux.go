package prompt

import (
	"context"
	"fmt"
	"sync"

	"github.com/m3rciful/agendabot/core/logger"
)

// Mux routes each send to the transport registered for the channel of the
// event being handled, as carried by the logger event metadata in ctx.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]Transport
}

var _ Transport = (*Mux)(nil)

// NewMux returns an empty mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]Transport)}
}

// Register binds channel to t, replacing any previous binding.
func (m *Mux) Register(channel string, t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[channel] = t
}

func (m *Mux) route(ctx context.Context) (Transport, error) {
	channel := logger.ChannelFrom(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.routes[channel]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("prompt: no transport for channel %q", channel)
}

func (m *Mux) SendText(ctx context.Context, to, body string) error {
	t, err := m.route(ctx)
	if err != nil {
		return err
	}
	return t.SendText(ctx, to, body)
}

func (m *Mux) SendButtons(ctx context.Context, to, body string, buttons []Button) error {
	t, err := m.route(ctx)
	if err != nil {
		return err
	}
	return t.SendButtons(ctx, to, body, buttons)
}

func (m *Mux) SendList(ctx context.Context, to string, list List) error {
	t, err := m.route(ctx)
	if err != nil {
		return err
	}
	return t.SendList(ctx, to, list)
}

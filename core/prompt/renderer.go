package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/interaction"
	"github.com/m3rciful/agendabot/core/logger"
)

// Option is one choice of a prompt before its id is built.
type Option struct {
	Value       string
	Title       string
	Description string
}

// Spec describes one interactive prompt.
type Spec struct {
	Kind conversation.Kind
	TTL  time.Duration
	Body string

	Options []Option
	// AsList sends Options as a list instead of reply buttons.
	AsList       bool
	ButtonLabel  string
	SectionTitle string

	// Update runs in the same state write that records the new expectation.
	Update func(*conversation.State)
}

// Renderer issues a fresh token per prompt, records it as the conversation's
// expected interaction and then sends the prompt.
type Renderer struct {
	store     conversation.Store
	transport Transport
	now       func() time.Time
	newToken  func() string
}

// NewRenderer builds a Renderer. A nil clock selects time.Now.
func NewRenderer(store conversation.Store, transport Transport, clock func() time.Time) *Renderer {
	if clock == nil {
		clock = time.Now
	}
	return &Renderer{
		store:     store,
		transport: transport,
		now:       clock,
		newToken:  interaction.NewToken,
	}
}

// Text sends a plain message.
func (r *Renderer) Text(ctx context.Context, to, body string) error {
	if err := r.transport.SendText(ctx, to, body); err != nil {
		return fmt.Errorf("prompt: send text: %w", err)
	}
	return nil
}

// Render persists the expectation for spec and sends it to key. The previous
// expectation, if any, is superseded even when sending fails afterwards.
func (r *Renderer) Render(ctx context.Context, key string, spec Spec) (conversation.Expected, error) {
	prefix, ok := interaction.PrefixFor(spec.Kind)
	if !ok {
		return conversation.Expected{}, fmt.Errorf("prompt: unknown kind %q", spec.Kind)
	}
	if len(spec.Options) == 0 {
		return conversation.Expected{}, fmt.Errorf("prompt: %s prompt without options", spec.Kind)
	}

	exp := conversation.Expected{
		Kind:      spec.Kind,
		Token:     r.newToken(),
		ExpiresAt: r.now().Add(spec.TTL),
	}
	ids := make([]string, len(spec.Options))
	for i, opt := range spec.Options {
		id, err := interaction.Make(prefix, exp.Token, opt.Value)
		if err != nil {
			return conversation.Expected{}, fmt.Errorf("prompt: build id: %w", err)
		}
		ids[i] = id
	}

	err := r.store.Patch(ctx, key, func(st *conversation.State) {
		if spec.Update != nil {
			spec.Update(st)
		}
		e := exp
		st.Expected = &e
	})
	if err != nil {
		return conversation.Expected{}, fmt.Errorf("prompt: record expectation: %w", err)
	}

	if spec.AsList {
		rows := make([]Row, len(spec.Options))
		for i, opt := range spec.Options {
			rows[i] = Row{ID: ids[i], Title: opt.Title, Description: opt.Description}
		}
		err = r.transport.SendList(ctx, key, List{
			Body:         spec.Body,
			ButtonLabel:  spec.ButtonLabel,
			SectionTitle: spec.SectionTitle,
			Rows:         rows,
		})
	} else {
		buttons := make([]Button, len(spec.Options))
		for i, opt := range spec.Options {
			buttons[i] = Button{ID: ids[i], Title: opt.Title}
		}
		err = r.transport.SendButtons(ctx, key, spec.Body, buttons)
	}
	if err != nil {
		return exp, fmt.Errorf("prompt: send %s: %w", spec.Kind, err)
	}

	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "flow", "prompt.render",
			slog.String("kind", string(spec.Kind)),
			slog.Int("options", len(spec.Options)),
			slog.Bool("list", spec.AsList),
		)
	}
	return exp, nil
}

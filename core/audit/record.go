// Package audit keeps a transcript of every conversation: accepted inbound
// events, outbound prompts and booking outcomes. Records are written off the
// user's task by a bounded dispatcher so a slow sink never stalls the flow.
package audit

import (
	"context"
	"time"
)

// Direction tells who produced a transcript line.
type Direction string

const (
	Incoming Direction = "entrante"
	Outgoing Direction = "saliente"
)

// Message kinds stored with each record.
const (
	KindText        = "text"
	KindInteraction = "interactive"
	KindButtons     = "buttons"
	KindList        = "list"
	KindOutcome     = "outcome"
)

// Record is one transcript entry. StartedAt is set on inbound records and
// identifies the conversation; outbound and outcome records leave it zero and
// attach to the user's current conversation.
type Record struct {
	Channel   string
	UserKey   string
	StartedAt time.Time
	At        time.Time
	Direction Direction
	Kind      string
	Content   string
	Outcome   string
}

// IsOutcome reports whether r marks the end state of a conversation rather
// than a message.
func (r Record) IsOutcome() bool {
	return r.Kind == KindOutcome
}

// Sink persists transcript records. Write may be retried, so sinks should
// tolerate a record arriving twice after a transient failure.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

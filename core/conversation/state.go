// Package conversation holds the per-user booking conversation record and the
// stores that persist it between events.
package conversation

import (
	"slices"
	"time"
)

// Step is the position of a conversation in the booking dialogue.
type Step string

const (
	StepNew             Step = "NEW"
	StepAskConfirm      Step = "ASK_CONFIRM"
	StepAwaitBucket     Step = "AWAIT_BUCKET"
	StepAwaitName       Step = "AWAIT_NAME"
	StepAwaitDate       Step = "AWAIT_DATE"
	StepAwaitSlotChoice Step = "AWAIT_SLOT_CHOICE"
	StepAwaitEmail      Step = "AWAIT_EMAIL"
	StepAfterConfirm    Step = "AFTER_CONFIRM"
)

// Kind identifies which prompt an interaction answers.
type Kind string

const (
	KindWelcome   Kind = "welcome"
	KindBucket    Kind = "bucket"
	KindDateMode  Kind = "date_mode"
	KindDatePick  Kind = "date_pick"
	KindSlotPick  Kind = "slot_pick"
	KindAfterMenu Kind = "after_menu"
)

// Expected is the one interaction a conversation is currently waiting for.
type Expected struct {
	Kind      Kind      `json:"kind"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the expectation can still be answered at now.
func (e *Expected) Live(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// Slot is a candidate appointment exactly as it was rendered to the user.
type Slot struct {
	EventID string `json:"event_id"`
	Start   string `json:"start"`
	Bucket  string `json:"bucket,omitempty"`
}

// State is the persisted conversation record. The zero Step and StepNew both
// denote the New variant: a conversation with nothing collected yet.
type State struct {
	Step     Step      `json:"step"`
	Expected *Expected `json:"expected,omitempty"`

	Agenda  string   `json:"agenda,omitempty"`
	Bucket  string   `json:"bucket,omitempty"`
	Name    string   `json:"nombre,omitempty"`
	Date    string   `json:"fecha,omitempty"`
	EventID string   `json:"event_id,omitempty"`
	Slots   []Slot   `json:"slots,omitempty"`
	Buckets []string `json:"buckets,omitempty"`

	// LastTS is the ordering watermark: the provider timestamp of the last accepted event.
	LastTS    int64     `json:"last_ts"`
	StartedAt time.Time `json:"started_at"`
}

// New returns the New variant.
func New() State {
	return State{Step: StepNew}
}

// Reset returns a New state that keeps the ordering watermark of prev.
func Reset(prev State, now time.Time) State {
	return State{Step: StepNew, LastTS: prev.LastTS, StartedAt: now}
}

// IsNew reports whether s is the New variant.
func (s State) IsNew() bool {
	return s.Step == "" || s.Step == StepNew
}

// Expired reports whether the conversation was opened more than horizon ago.
func (s State) Expired(now time.Time, horizon time.Duration) bool {
	if horizon <= 0 || s.StartedAt.IsZero() {
		return false
	}
	return now.Sub(s.StartedAt) > horizon
}

// HasBucket reports whether code is one of the buckets offered for the current agenda.
func (s State) HasBucket(code string) bool {
	return slices.Contains(s.Buckets, code)
}

// FindSlot returns the rendered slot with the given event id.
func (s State) FindSlot(eventID string) (Slot, bool) {
	for _, sl := range s.Slots {
		if sl.EventID == eventID {
			return sl, true
		}
	}
	return Slot{}, false
}

// Clone returns a deep copy so stores never share slices with callers.
func (s State) Clone() State {
	out := s
	if s.Expected != nil {
		exp := *s.Expected
		out.Expected = &exp
	}
	out.Slots = slices.Clone(s.Slots)
	out.Buckets = slices.Clone(s.Buckets)
	if out.Step == "" {
		out.Step = StepNew
	}
	return out
}

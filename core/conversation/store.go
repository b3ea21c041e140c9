package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyKey is returned when a store operation is called without a user key.
var ErrEmptyKey = errors.New("conversation: empty user key")

// Store persists one State per user key. Every operation is atomic for its key:
// a failed write leaves the previously stored state untouched.
//
// Read never fails for an absent key; it returns New(). Patch is read-merge-write
// and relies on the caller to serialize writers of the same key.
type Store interface {
	Read(ctx context.Context, key string) (State, error)
	Replace(ctx context.Context, key string, st State) error
	Patch(ctx context.Context, key string, mutate func(*State)) error
	Clear(ctx context.Context, key string) error
}

func encode(st State) ([]byte, error) {
	data, err := json.Marshal(st.Clone())
	if err != nil {
		return nil, fmt.Errorf("conversation: encode state: %w", err)
	}
	return data, nil
}

func decode(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("conversation: decode state: %w", err)
	}
	if st.Step == "" {
		st.Step = StepNew
	}
	return st, nil
}

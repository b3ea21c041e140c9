// Package prompt sends interactive prompts and records which one a
// conversation is waiting on.
package prompt

import "context"

// Button is one reply button. ID is the composite interaction id.
type Button struct {
	ID    string
	Title string
}

// Row is one entry of a list prompt.
type Row struct {
	ID          string
	Title       string
	Description string
}

// List is a single-section list prompt.
type List struct {
	Body         string
	ButtonLabel  string
	SectionTitle string
	Rows         []Row
}

// Transport delivers messages to a user of one messaging channel. Label
// truncation and provider limits are the transport's concern.
type Transport interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []Button) error
	SendList(ctx context.Context, to string, list List) error
}

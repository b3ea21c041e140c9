// Package booking talks to the agenda service that owns calendars, buckets and
// slot reservations.
package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrSlotTaken reports that a slot was reserved by someone else first.
var ErrSlotTaken = errors.New("booking: slot already taken")

// Slot is one bookable calendar event.
type Slot struct {
	EventID string
	Start   string
	Bucket  string
}

// SlotQuery bounds a slot search. TimeMin and TimeMax are RFC 3339 strings.
type SlotQuery struct {
	Agenda     string
	TimeMin    string
	TimeMax    string
	MaxResults int
}

// Reservation is the payload of a booking request.
type Reservation struct {
	Agenda        string
	EventID       string
	CustomerName  string
	CustomerPhone string
	Notes         string
	AttendeeEmail string
	Bucket        string
}

// Confirmation is returned by a successful reservation.
type Confirmation struct {
	EventID string
	Start   string
	Status  string
}

// Gateway is the contract the conversation flow consumes.
type Gateway interface {
	ListBuckets(ctx context.Context, agenda string) ([]string, error)
	ListSlots(ctx context.Context, q SlotQuery) ([]Slot, error)
	// Reserve fails with an error matching ErrSlotTaken on a conflict.
	Reserve(ctx context.Context, r Reservation) (Confirmation, error)
}

// StatusError is a non-2xx answer from the agenda service.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("booking: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("booking: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Code implements the logger error-code convention.
func (e *StatusError) Code() string {
	return fmt.Sprintf("HTTP_%d", e.Status)
}

// Is matches ErrSlotTaken for 409 answers.
func (e *StatusError) Is(target error) bool {
	return target == ErrSlotTaken && e.Status == http.StatusConflict
}

// ABOUTME: FlowSession data model and the Store interface for booking dialogues
// ABOUTME: Step names, catalog snapshot, and the partially filled selection

package session

import (
	"context"
	"errors"
	"time"

	"github.com/2389/garage-assistant/internal/backend"
)

// ErrNotFound is returned when a conversation has no live session
var ErrNotFound = errors.New("session not found")

// ErrCorrupt is returned when a stored session cannot be decoded
var ErrCorrupt = errors.New("session corrupt")

// Step identifies where a booking dialogue currently is.
type Step string

const (
	StepSelectVehicle Step = "select_vehicle"
	StepSelectService Step = "select_service"
	StepSelectStation Step = "select_station"
	StepSelectStaff   Step = "select_staff"
	StepSelectDate    Step = "select_date"
	StepSelectTime    Step = "select_time"
	StepAddNotes      Step = "add_notes"
	StepConfirm       Step = "confirm"

	// Terminal steps. A session in one of these is never stored.
	StepSubmitted Step = "submitted"
	StepCancelled Step = "cancelled"
	StepFailed    Step = "failed"
)

// Terminal reports whether the step ends the dialogue.
func (s Step) Terminal() bool {
	switch s {
	case StepSubmitted, StepCancelled, StepFailed:
		return true
	}
	return false
}

// Catalog is the option lists fetched for a session. Staff is filled lazily
// for StaffStation once a station has been chosen.
type Catalog struct {
	Vehicles     []backend.Vehicle `json:"vehicles"`
	Services     []backend.Service `json:"services"`
	Stations     []backend.Station `json:"stations"`
	Staff        []backend.Staff   `json:"staff,omitempty"`
	StaffStation backend.ID        `json:"staff_station,omitempty"`
}

// Selection is what the user has chosen so far. Each field is owned by one step.
type Selection struct {
	Vehicle *backend.Vehicle `json:"vehicle,omitempty"`
	Service *backend.Service `json:"service,omitempty"`
	Station *backend.Station `json:"station,omitempty"`
	Staff   *backend.Staff   `json:"staff,omitempty"`
	Date    string           `json:"date,omitempty"` // YYYY-MM-DD
	Time    string           `json:"time,omitempty"` // HH:MM
	Notes   *string          `json:"notes,omitempty"`
}

// FlowSession is one live booking dialogue.
type FlowSession struct {
	ConversationID string    `json:"conversation_id"`
	AccountID      string    `json:"account_id"`
	Language       string    `json:"language,omitempty"`
	Step           Step      `json:"step"`
	Catalog        Catalog   `json:"catalog"`
	Selection      Selection `json:"selection"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with s.
func (s *FlowSession) Clone() *FlowSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Catalog.Vehicles = append([]backend.Vehicle(nil), s.Catalog.Vehicles...)
	c.Catalog.Services = append([]backend.Service(nil), s.Catalog.Services...)
	c.Catalog.Stations = append([]backend.Station(nil), s.Catalog.Stations...)
	c.Catalog.Staff = append([]backend.Staff(nil), s.Catalog.Staff...)
	c.Selection.Vehicle = clonePtr(s.Selection.Vehicle)
	c.Selection.Service = clonePtr(s.Selection.Service)
	c.Selection.Station = clonePtr(s.Selection.Station)
	c.Selection.Staff = clonePtr(s.Selection.Staff)
	c.Selection.Notes = clonePtr(s.Selection.Notes)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Store persists FlowSessions keyed by conversation id.
type Store interface {
	// Get returns ErrNotFound when there is no live session.
	Get(ctx context.Context, conversationID string) (*FlowSession, error)

	// Set creates or replaces the session and refreshes its TTL.
	Set(ctx context.Context, s *FlowSession) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, conversationID string) error
}

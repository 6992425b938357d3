// ABOUTME: Per-step prompts and input handlers for the booking dialogue
// ABOUTME: Each handler stores only its own selection field and names the next step

package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/session"
)

// Dialogue texts
const (
	MsgNoVehicles    = "You have no registered vehicles yet. Add a vehicle to your account, then send `book` again."
	MsgNoStaffFmt    = "Nobody is available at %s right now. Please choose another station."
	MsgCancelled     = "Booking cancelled."
	MsgFirstStep     = "This is the first step."
	MsgInvalidChoice = "I didn't understand that. Please reply with the number of one of the options."
	MsgInvalidDate   = "I didn't understand that date. Please reply with a number or a day from the list."
	MsgInvalidTime   = "Please reply with one of the listed times in 24-hour HH:MM form, for example 10:00."
	MsgConfirmHint   = "Reply *confirm* to book, *back* to change something, or *cancel*."
	MsgBookedFmt     = "Your appointment is booked: %s on %s at %s, %s. See you then!"

	hintChoose  = "Reply with a number, *back* or *cancel*."
	hintKeepFmt = "Currently selected: %s. Reply *keep* to keep it."
)

// pick resolves list input to an option. "keep" returns current when set.
func pick[T any](input string, options []T, current *T) (*T, bool) {
	if parseKeyword(input) == kwKeep && current != nil {
		return current, true
	}
	idx, ok := parseOrdinal(input, len(options))
	if !ok {
		return nil, false
	}
	chosen := options[idx]
	return &chosen, true
}

func reprompt(s *session.FlowSession, notice string) transition {
	return transition{next: s.Step, notice: notice}
}

// renderOptions builds a numbered list prompt.
func renderOptions(title string, labels []string, current string) string {
	var b strings.Builder
	b.WriteString("**" + title + "**\n\n")
	for i, l := range labels {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	if current != "" {
		b.WriteString("\n" + fmt.Sprintf(hintKeepFmt, current))
	}
	b.WriteString("\n" + hintChoose)
	return b.String()
}

// Vehicle

func (m *Machine) promptVehicle(s *session.FlowSession) string {
	labels := make([]string, len(s.Catalog.Vehicles))
	for i, v := range s.Catalog.Vehicles {
		labels[i] = v.Label()
	}
	current := ""
	if s.Selection.Vehicle != nil {
		current = s.Selection.Vehicle.Label()
	}
	return renderOptions("Which vehicle should we look after?", labels, current)
}

func (m *Machine) handleVehicle(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	v, ok := pick(input, s.Catalog.Vehicles, s.Selection.Vehicle)
	if !ok {
		return reprompt(s, MsgInvalidChoice), nil
	}
	s.Selection.Vehicle = v
	return transition{next: session.StepSelectService}, nil
}

// Service

func (m *Machine) promptService(s *session.FlowSession) string {
	labels := make([]string, len(s.Catalog.Services))
	for i, svc := range s.Catalog.Services {
		labels[i] = svc.Name
	}
	current := ""
	if s.Selection.Service != nil {
		current = s.Selection.Service.Name
	}
	return renderOptions("Which service do you need?", labels, current)
}

func (m *Machine) handleService(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	svc, ok := pick(input, s.Catalog.Services, s.Selection.Service)
	if !ok {
		return reprompt(s, MsgInvalidChoice), nil
	}
	s.Selection.Service = svc
	return transition{next: session.StepSelectStation}, nil
}

// Station

func (m *Machine) promptStation(s *session.FlowSession) string {
	labels := make([]string, len(s.Catalog.Stations))
	for i, st := range s.Catalog.Stations {
		labels[i] = st.Name
		if st.Address != "" {
			labels[i] += " (" + st.Address + ")"
		}
	}
	current := ""
	if s.Selection.Station != nil {
		current = s.Selection.Station.Name
	}
	return renderOptions("Which station suits you?", labels, current)
}

func (m *Machine) handleStation(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	st, ok := pick(input, s.Catalog.Stations, s.Selection.Station)
	if !ok {
		return reprompt(s, MsgInvalidChoice), nil
	}
	s.Selection.Station = st
	return transition{next: session.StepSelectStaff}, nil
}

// Staff

// currentStaff is the kept staff selection, if it still works at the chosen station.
func currentStaff(s *session.FlowSession) *backend.Staff {
	if s.Selection.Staff == nil || s.Selection.Station == nil {
		return nil
	}
	if !s.Selection.Staff.WorksAt(s.Selection.Station.ID) {
		return nil
	}
	return s.Selection.Staff
}

func (m *Machine) promptStaff(s *session.FlowSession) string {
	labels := make([]string, len(s.Catalog.Staff))
	for i, st := range s.Catalog.Staff {
		labels[i] = st.DisplayName()
		if st.Role != "" {
			labels[i] += " (" + st.Role + ")"
		}
	}
	current := ""
	if c := currentStaff(s); c != nil {
		current = c.DisplayName()
	}
	return renderOptions("Who should take care of your car?", labels, current)
}

func (m *Machine) handleStaff(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	st, ok := pick(input, s.Catalog.Staff, currentStaff(s))
	if !ok {
		return reprompt(s, MsgInvalidChoice), nil
	}
	s.Selection.Staff = st
	return transition{next: session.StepSelectDate}, nil
}

// Date

func (m *Machine) dateOptions(s *session.FlowSession) []DateOption {
	return m.calendar.Dates(m.now(), s.Language)
}

// dateLabel renders a date key in the session's language.
func (m *Machine) dateLabel(s *session.FlowSession, key string) string {
	d, err := time.ParseInLocation(DateKeyLayout, key, m.calendar.location())
	if err != nil {
		return key
	}
	return labelsFor(s.Language).format(d)
}

func (m *Machine) promptDate(s *session.FlowSession) string {
	options := m.dateOptions(s)
	labels := make([]string, len(options))
	current := ""
	for i, o := range options {
		labels[i] = o.Label
		if o.Key == s.Selection.Date {
			current = o.Label
		}
	}
	return renderOptions("Which day?", labels, current)
}

func (m *Machine) handleDate(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	options := m.dateOptions(s)
	if parseKeyword(input) == kwKeep {
		for _, o := range options {
			if o.Key == s.Selection.Date {
				return transition{next: session.StepSelectTime}, nil
			}
		}
	}
	opt, ok := MatchDate(input, options)
	if !ok {
		return reprompt(s, MsgInvalidDate), nil
	}
	s.Selection.Date = opt.Key
	return transition{next: session.StepSelectTime}, nil
}

// Time

func (m *Machine) promptTime(s *session.FlowSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**What time on %s?**\n\n", m.dateLabel(s, s.Selection.Date))
	b.WriteString(strings.Join(m.calendar.Slots(), "  "))
	b.WriteString("\n")
	if s.Selection.Time != "" {
		b.WriteString("\n" + fmt.Sprintf(hintKeepFmt, s.Selection.Time))
	}
	b.WriteString("\nReply with a time such as 10:00, *back* or *cancel*.")
	return b.String()
}

func (m *Machine) handleTime(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	slots := m.calendar.Slots()
	if parseKeyword(input) == kwKeep && s.Selection.Time != "" {
		if _, ok := MatchSlot(s.Selection.Time, slots); ok {
			return transition{next: session.StepAddNotes}, nil
		}
	}
	slot, ok := MatchSlot(input, slots)
	if !ok {
		return reprompt(s, MsgInvalidTime), nil
	}
	s.Selection.Time = slot
	return transition{next: session.StepAddNotes}, nil
}

// Notes

func (m *Machine) promptNotes(s *session.FlowSession) string {
	var b strings.Builder
	b.WriteString("**Anything the workshop should know?**\n\n")
	b.WriteString("Describe the problem, or reply *" + SkipNotes + "* to leave notes empty.")
	if s.Selection.Notes != nil && *s.Selection.Notes != "" {
		b.WriteString("\n" + fmt.Sprintf(hintKeepFmt, "\""+*s.Selection.Notes+"\""))
	}
	return b.String()
}

// handleNotes always advances.
func (m *Machine) handleNotes(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	switch parseKeyword(input) {
	case kwKeep:
		if s.Selection.Notes == nil {
			s.Selection.Notes = new(string)
		}
	case kwSkip:
		s.Selection.Notes = new(string)
	default:
		notes := strings.TrimSpace(input)
		s.Selection.Notes = &notes
	}
	return transition{next: session.StepConfirm}, nil
}

// Confirm

// Summary renders the accumulated selection in step order.
func (m *Machine) Summary(s *session.FlowSession) string {
	sel := s.Selection
	field := func(label string, set bool, value func() string) string {
		if !set {
			return label + ": -"
		}
		return label + ": " + value()
	}
	notes := "(none)"
	if sel.Notes != nil && *sel.Notes != "" {
		notes = *sel.Notes
	}

	lines := []string{
		"**Please confirm your appointment:**",
		"",
		field("Vehicle", sel.Vehicle != nil, func() string { return sel.Vehicle.Label() }),
		field("Service", sel.Service != nil, func() string { return sel.Service.Name }),
		field("Station", sel.Station != nil, func() string { return sel.Station.Name }),
		field("Staff", sel.Staff != nil, func() string { return sel.Staff.DisplayName() }),
		field("Date", sel.Date != "", func() string { return m.dateLabel(s, sel.Date) }),
		field("Time", sel.Time != "", func() string { return sel.Time }),
		"Notes: " + notes,
	}
	return strings.Join(lines, "\n")
}

func (m *Machine) promptConfirm(s *session.FlowSession) string {
	return m.Summary(s) + "\n\n" + MsgConfirmHint
}

func (m *Machine) handleConfirm(ctx context.Context, s *session.FlowSession, input string) (transition, error) {
	if parseKeyword(input) != kwConfirm {
		return reprompt(s, ""), nil
	}
	return m.submit(ctx, s)
}

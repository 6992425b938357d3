// ABOUTME: Booking state machine driving one appointment dialogue per conversation
// ABOUTME: Start, HandleInput, IsActive and Cancel; step handlers are registered in a table

package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/garage-assistant/internal/auth"
	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/metrics"
	"github.com/2389/garage-assistant/internal/session"
)

// ErrAccountChanged is returned when the conversation logged in as a
// different account while a dialogue was open.
var ErrAccountChanged = errors.New("account changed during booking")

// Gateway is the part of the backend API the flow calls
type Gateway interface {
	ListVehicles(ctx context.Context, token, accountID string) ([]backend.Vehicle, error)
	ListServices(ctx context.Context, token string) ([]backend.Service, error)
	ListStations(ctx context.Context, token string) ([]backend.Station, error)
	ListStaff(ctx context.Context, token string) ([]backend.Staff, error)
	CreateAppointment(ctx context.Context, token string, req backend.AppointmentRequest) (*backend.Appointment, error)
}

// CredentialSource resolves a conversation's credentials and language
type CredentialSource interface {
	RequireCredentials(ctx context.Context, conversationID string) (auth.Credentials, error)
	GetLanguage(ctx context.Context, conversationID string) (string, error)
}

// Messenger delivers a reply to a conversation. Text is light markdown.
type Messenger interface {
	SendText(ctx context.Context, conversationID, text string) error
}

// Options configures a Machine
type Options struct {
	Calendar Calendar

	// ErrorDelay is the pause between an error message and the menu.
	ErrorDelay time.Duration

	// Menu is sent when a dialogue ends without a booking.
	Menu string

	Logger *slog.Logger
	Now    func() time.Time
}

// transition is a step handler's decision. next equal to the current step re-prompts.
type transition struct {
	next   session.Step
	notice string
}

type stepHandler struct {
	prompt func(s *session.FlowSession) string
	handle func(ctx context.Context, s *session.FlowSession, input string) (transition, error)
}

// flowOrder is the forward sequence of non-terminal steps.
var flowOrder = []session.Step{
	session.StepSelectVehicle,
	session.StepSelectService,
	session.StepSelectStation,
	session.StepSelectStaff,
	session.StepSelectDate,
	session.StepSelectTime,
	session.StepAddNotes,
	session.StepConfirm,
}

func previousStep(step session.Step) (session.Step, bool) {
	for i, s := range flowOrder {
		if s == step && i > 0 {
			return flowOrder[i-1], true
		}
	}
	return "", false
}

// Machine runs booking dialogues. It holds no per-conversation state itself;
// everything lives in the session store. Callers serialize calls per conversation.
type Machine struct {
	gateway    Gateway
	creds      CredentialSource
	sessions   session.Store
	messenger  Messenger
	calendar   Calendar
	errorDelay time.Duration
	menu       string
	logger     *slog.Logger
	now        func() time.Time

	steps map[session.Step]stepHandler
}

// New creates a booking machine.
func New(gateway Gateway, creds CredentialSource, sessions session.Store, messenger Messenger, opts Options) *Machine {
	if opts.Calendar.SlotInterval <= 0 {
		opts.Calendar = DefaultCalendar()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Machine{
		gateway:    gateway,
		creds:      creds,
		sessions:   sessions,
		messenger:  messenger,
		calendar:   opts.Calendar,
		errorDelay: opts.ErrorDelay,
		menu:       opts.Menu,
		logger:     opts.Logger.With("component", "booking"),
		now:        opts.Now,
	}

	m.steps = map[session.Step]stepHandler{
		session.StepSelectVehicle: {prompt: m.promptVehicle, handle: m.handleVehicle},
		session.StepSelectService: {prompt: m.promptService, handle: m.handleService},
		session.StepSelectStation: {prompt: m.promptStation, handle: m.handleStation},
		session.StepSelectStaff:   {prompt: m.promptStaff, handle: m.handleStaff},
		session.StepSelectDate:    {prompt: m.promptDate, handle: m.handleDate},
		session.StepSelectTime:    {prompt: m.promptTime, handle: m.handleTime},
		session.StepAddNotes:      {prompt: m.promptNotes, handle: m.handleNotes},
		session.StepConfirm:       {prompt: m.promptConfirm, handle: m.handleConfirm},
	}
	return m
}

// Start opens a new dialogue, replacing any existing one. preselectedVehicleID
// may be empty. The returned error is only a delivery failure; flow errors are
// reported to the user.
func (m *Machine) Start(ctx context.Context, conversationID, preselectedVehicleID string) error {
	logger := m.logger.With("conversation_id", conversationID)

	creds, err := m.creds.RequireCredentials(ctx, conversationID)
	if err != nil {
		if isAuthFailure(err) {
			logger.Info("booking refused", "reason", err)
			return m.send(ctx, conversationID, UserMessage(err))
		}
		return m.fail(ctx, conversationID, false, err)
	}

	if err := m.sessions.Delete(ctx, conversationID); err != nil {
		return m.fail(ctx, conversationID, false, err)
	}

	lang, err := m.creds.GetLanguage(ctx, conversationID)
	if err != nil {
		logger.Warn("failed to load language preference", "error", err)
	}

	var (
		vehicles []backend.Vehicle
		services []backend.Service
		stations []backend.Station
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vehicles, err = m.gateway.ListVehicles(gctx, creds.Token, creds.AccountID)
		return err
	})
	g.Go(func() error {
		var err error
		services, err = m.gateway.ListServices(gctx, creds.Token)
		return err
	})
	g.Go(func() error {
		var err error
		stations, err = m.gateway.ListStations(gctx, creds.Token)
		return err
	})
	if err := g.Wait(); err != nil {
		return m.fail(ctx, conversationID, false, fmt.Errorf("loading catalog: %w", err))
	}

	if len(vehicles) == 0 {
		logger.Info("booking refused", "reason", "no vehicles")
		return m.send(ctx, conversationID, MsgNoVehicles)
	}

	s := &session.FlowSession{
		ConversationID: conversationID,
		AccountID:      creds.AccountID,
		Language:       lang,
		Step:           session.StepSelectVehicle,
		Catalog: session.Catalog{
			Vehicles: vehicles,
			Services: services,
			Stations: stations,
		},
	}
	if preselectedVehicleID != "" {
		for _, v := range vehicles {
			if v.ID == backend.ID(preselectedVehicleID) {
				s.Selection.Vehicle = &v
				s.Step = session.StepSelectService
				break
			}
		}
	}

	if err := m.sessions.Set(ctx, s); err != nil {
		return m.fail(ctx, conversationID, false, err)
	}
	metrics.RecordFlowStarted()
	logger.Info("booking started", "step", s.Step, "preselected", s.Selection.Vehicle != nil)

	return m.send(ctx, conversationID, m.render(s, ""))
}

// HandleInput feeds one message to the conversation's dialogue. handled is
// false when no dialogue is open. The returned error is a delivery failure;
// flow errors, including an unreadable session, are reported to the user and
// end the dialogue.
func (m *Machine) HandleInput(ctx context.Context, conversationID, text string) (handled bool, err error) {
	s, err := m.sessions.Get(ctx, conversationID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, m.fail(ctx, conversationID, true, fmt.Errorf("loading session: %w", err))
	}

	var t transition
	switch parseKeyword(text) {
	case kwCancel:
		return true, m.cancelFlow(ctx, s)
	case kwBack:
		t = m.back(s)
	default:
		h, ok := m.steps[s.Step]
		if !ok {
			err = fmt.Errorf("no handler for step %q", s.Step)
			break
		}
		t, err = h.handle(ctx, s, text)
	}
	if err != nil {
		return true, m.fail(ctx, conversationID, true, err)
	}
	return true, m.apply(ctx, s, t)
}

// IsActive reports whether the conversation has an open dialogue.
func (m *Machine) IsActive(ctx context.Context, conversationID string) (bool, error) {
	_, err := m.sessions.Get(ctx, conversationID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel silently discards the conversation's dialogue and reports whether one existed.
func (m *Machine) Cancel(ctx context.Context, conversationID string) (bool, error) {
	active, err := m.IsActive(ctx, conversationID)
	if err != nil || !active {
		return false, err
	}
	if err := m.sessions.Delete(ctx, conversationID); err != nil {
		return false, err
	}
	metrics.RecordFlowFinished(metrics.OutcomeCancelled)
	m.logger.Info("booking cancelled", "conversation_id", conversationID)
	return true, nil
}

func (m *Machine) cancelFlow(ctx context.Context, s *session.FlowSession) error {
	if err := m.sessions.Delete(ctx, s.ConversationID); err != nil {
		return m.fail(ctx, s.ConversationID, true, err)
	}
	metrics.RecordFlowFinished(metrics.OutcomeCancelled)
	m.logger.Info("booking cancelled", "conversation_id", s.ConversationID, "step", s.Step)
	return m.send(ctx, s.ConversationID, joinParagraphs(MsgCancelled, m.menu))
}

func (m *Machine) back(s *session.FlowSession) transition {
	prev, ok := previousStep(s.Step)
	if !ok {
		return transition{next: s.Step, notice: MsgFirstStep}
	}
	return transition{next: prev}
}

// apply moves the session to t.next, persists it, and sends the next prompt.
func (m *Machine) apply(ctx context.Context, s *session.FlowSession, t transition) error {
	if t.next == session.StepSubmitted {
		if err := m.sessions.Delete(ctx, s.ConversationID); err != nil {
			m.logger.Error("failed to remove submitted session", "conversation_id", s.ConversationID, "error", err)
		}
		metrics.RecordFlowFinished(metrics.OutcomeSubmitted)
		return m.send(ctx, s.ConversationID, t.notice)
	}

	notice := t.notice
	if t.next != s.Step {
		entryNotice, err := m.moveTo(ctx, s, t.next)
		if err != nil {
			return m.fail(ctx, s.ConversationID, true, err)
		}
		notice = joinParagraphs(notice, entryNotice)
	}

	if err := m.sessions.Set(ctx, s); err != nil {
		return m.fail(ctx, s.ConversationID, true, err)
	}
	return m.send(ctx, s.ConversationID, m.render(s, notice))
}

// moveTo sets s.Step after running the step's entry work. Entering
// SelectStaff loads the station's roster; an empty roster stays on
// SelectStation with a notice.
func (m *Machine) moveTo(ctx context.Context, s *session.FlowSession, step session.Step) (string, error) {
	if step == session.StepSelectStaff {
		staff, err := m.stationStaff(ctx, s)
		if err != nil {
			return "", err
		}
		if len(staff) == 0 {
			s.Step = session.StepSelectStation
			return fmt.Sprintf(MsgNoStaffFmt, s.Selection.Station.Name), nil
		}
	}
	s.Step = step
	return "", nil
}

// stationStaff returns the roster for the selected station, fetching it
// unless it was already loaded for that station.
func (m *Machine) stationStaff(ctx context.Context, s *session.FlowSession) ([]backend.Staff, error) {
	station := s.Selection.Station
	if station == nil {
		return nil, fmt.Errorf("entering %s without a station", session.StepSelectStaff)
	}
	if s.Catalog.StaffStation == station.ID && len(s.Catalog.Staff) > 0 {
		return s.Catalog.Staff, nil
	}

	creds, err := m.creds.RequireCredentials(ctx, s.ConversationID)
	if err != nil {
		return nil, err
	}
	roster, err := m.gateway.ListStaff(ctx, creds.Token)
	if err != nil {
		return nil, fmt.Errorf("loading staff: %w", err)
	}

	s.Catalog.Staff = backend.FilterStaffByStation(roster, station.ID)
	s.Catalog.StaffStation = station.ID
	m.logger.Debug("staff loaded",
		"conversation_id", s.ConversationID,
		"station_id", station.ID,
		"roster", len(roster),
		"matched", len(s.Catalog.Staff))
	return s.Catalog.Staff, nil
}

// submit re-validates credentials and creates the appointment. It is never retried.
func (m *Machine) submit(ctx context.Context, s *session.FlowSession) (transition, error) {
	creds, err := m.creds.RequireCredentials(ctx, s.ConversationID)
	if err != nil {
		return transition{}, err
	}
	if s.AccountID != "" && creds.AccountID != s.AccountID {
		return transition{}, ErrAccountChanged
	}

	sel := s.Selection
	if sel.Vehicle == nil || sel.Service == nil || sel.Station == nil || sel.Staff == nil {
		return transition{}, fmt.Errorf("incomplete selection at %s", s.Step)
	}
	when, err := m.calendar.Scheduled(sel.Date, sel.Time)
	if err != nil {
		return transition{}, err
	}
	notes := ""
	if sel.Notes != nil {
		notes = *sel.Notes
	}

	req := backend.AppointmentRequest{
		UserID:        backend.ID(creds.AccountID),
		ServiceID:     sel.Service.ID,
		StaffID:       sel.Staff.ID,
		StationID:     sel.Station.ID,
		VehicleID:     sel.Vehicle.ID,
		ScheduledTime: when,
		Notes:         notes,
		Vehicle:       backend.SnapshotOf(*sel.Vehicle),
	}
	appt, err := m.gateway.CreateAppointment(ctx, creds.Token, req)
	if err != nil {
		return transition{}, fmt.Errorf("creating appointment: %w", err)
	}

	m.logger.Info("appointment created",
		"conversation_id", s.ConversationID,
		"appointment_id", appt.ID,
		"scheduled_time", when.Format(time.RFC3339))

	return transition{
		next:   session.StepSubmitted,
		notice: fmt.Sprintf(MsgBookedFmt, sel.Service.Name, m.dateLabel(s, sel.Date), sel.Time, sel.Station.Name),
	}, nil
}

// fail is the shared error path: report the error, destroy the session,
// pause, then show the menu.
func (m *Machine) fail(ctx context.Context, conversationID string, hadSession bool, err error) error {
	logger := m.logger.With("conversation_id", conversationID)
	if isAuthFailure(err) {
		logger.Info("booking aborted", "reason", err)
	} else {
		logger.Error("booking failed", "error", err)
	}

	if hadSession {
		outcome := metrics.OutcomeFailed
		if isAuthFailure(err) {
			outcome = metrics.OutcomeExpired
		}
		metrics.RecordFlowFinished(outcome)
	}
	if delErr := m.sessions.Delete(ctx, conversationID); delErr != nil {
		logger.Error("failed to remove session", "error", delErr)
	}

	if sendErr := m.send(ctx, conversationID, UserMessage(err)); sendErr != nil {
		return sendErr
	}
	if m.menu == "" {
		return nil
	}
	if m.errorDelay > 0 {
		timer := time.NewTimer(m.errorDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return m.send(ctx, conversationID, m.menu)
}

func (m *Machine) send(ctx context.Context, conversationID, text string) error {
	if err := m.messenger.SendText(ctx, conversationID, text); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// render is the notice, if any, followed by the prompt for the current step.
func (m *Machine) render(s *session.FlowSession, notice string) string {
	h, ok := m.steps[s.Step]
	if !ok {
		return notice
	}
	return joinParagraphs(notice, h.prompt(s))
}

func joinParagraphs(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

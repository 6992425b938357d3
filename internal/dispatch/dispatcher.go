// ABOUTME: Conversation dispatcher: dedupe, per-conversation exclusion and routing
// ABOUTME: Open booking dialogues get the raw text; everything else is a menu command

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/dedupe"
	"github.com/2389/garage-assistant/internal/metrics"
	"github.com/2389/garage-assistant/internal/store"
)

// Flow is the booking dialogue surface
type Flow interface {
	Start(ctx context.Context, conversationID, preselectedVehicleID string) error
	HandleInput(ctx context.Context, conversationID, text string) (bool, error)
	Cancel(ctx context.Context, conversationID string) (bool, error)
}

// Accounts manages a conversation's credentials and preferences
type Accounts interface {
	GetIdentity(ctx context.Context, conversationID string) (*store.ChatIdentity, error)
	Link(ctx context.Context, conversationID, accountID, token string, expiresAt *time.Time) error
	Unlink(ctx context.Context, conversationID string) error
	IsLinked(ctx context.Context, conversationID string) (bool, error)
	SetLanguage(ctx context.Context, conversationID, tag string) (string, error)
	ToggleNotifications(ctx context.Context, conversationID string) (bool, error)
}

// Authenticator exchanges a login for backend credentials
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResponse, error)
}

// Messenger delivers a reply. Text is light markdown.
type Messenger interface {
	SendText(ctx context.Context, conversationID, text string) error
}

// Inbound is one message received from the chat transport
type Inbound struct {
	ConversationID string
	EventID        string // transport event id, used for dedupe
	Sender         string
	Text           string
}

// Options configures a Dispatcher
type Options struct {
	// Dedupe drops repeated event ids. Nil disables deduplication.
	Dedupe *dedupe.Window
	Logger *slog.Logger
}

// Dispatcher routes inbound messages. Safe for concurrent use.
type Dispatcher struct {
	flow      Flow
	accounts  Accounts
	authn     Authenticator
	messenger Messenger
	seen      *dedupe.Window
	locks     *keyedMutex
	logger    *slog.Logger
	commands  map[string]command
}

// New creates a dispatcher.
func New(flow Flow, accounts Accounts, authn Authenticator, messenger Messenger, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Dispatcher{
		flow:      flow,
		accounts:  accounts,
		authn:     authn,
		messenger: messenger,
		seen:      opts.Dedupe,
		locks:     newKeyedMutex(),
		logger:    opts.Logger.With("component", "dispatch"),
	}
	d.commands = d.commandTable()
	return d
}

// Handle processes one inbound message. Messages of one conversation are
// handled strictly one at a time in arrival order of the lock.
func (d *Dispatcher) Handle(ctx context.Context, msg Inbound) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("inbound message without conversation id")
	}
	if d.seen != nil && msg.EventID != "" && d.seen.Seen(msg.EventID) {
		metrics.RecordInbound(metrics.RouteDuplicate)
		d.logger.Debug("duplicate event dropped", "event_id", msg.EventID)
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		metrics.RecordInbound(metrics.RouteIgnored)
		return nil
	}

	unlock, err := d.locks.Lock(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("waiting for conversation %s: %w", msg.ConversationID, err)
	}
	defer unlock()

	handled, err := d.flow.HandleInput(ctx, msg.ConversationID, text)
	if err != nil {
		return fmt.Errorf("booking input: %w", err)
	}
	if handled {
		metrics.RecordInbound(metrics.RouteFlow)
		return nil
	}

	metrics.RecordInbound(metrics.RouteCommand)
	return d.runCommand(ctx, msg.ConversationID, text)
}

// ConversationClosed discards any open dialogue, for example when the user
// leaves the room.
func (d *Dispatcher) ConversationClosed(ctx context.Context, conversationID string) error {
	unlock, err := d.locks.Lock(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := d.flow.Cancel(ctx, conversationID); err != nil {
		return fmt.Errorf("discarding booking: %w", err)
	}
	return nil
}

func (d *Dispatcher) reply(ctx context.Context, conversationID, text string) error {
	if err := d.messenger.SendText(ctx, conversationID, text); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// ABOUTME: Matrix bridge: homeserver login, sync, inbound filtering and replies
// ABOUTME: Messages of one room are handed to the handler in arrival order

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/garage-assistant/internal/config"
	"github.com/2389/garage-assistant/internal/dispatch"
)

// Handler consumes inbound conversation events
type Handler interface {
	Handle(ctx context.Context, msg dispatch.Inbound) error
	ConversationClosed(ctx context.Context, conversationID string) error
}

const (
	deviceDisplayName = "garage-assistant"

	// typingTimeout is how long the typing indicator shows unless cleared.
	typingTimeout = 30 * time.Second

	// networkTimeout bounds typing and join calls.
	networkTimeout = 10 * time.Second

	// sendTimeout bounds sending one reply.
	sendTimeout = 30 * time.Second
)

// Bridge connects Matrix rooms to a Handler and implements the reply side.
type Bridge struct {
	config  config.MatrixConfig
	matrix  *mautrix.Client
	handler Handler
	logger  *slog.Logger

	// queues holds pending messages per room; a key exists while its worker runs.
	mu     sync.Mutex
	queues map[string][]dispatch.Inbound
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge. With an access token the client is ready to
// use; otherwise call Login first.
func NewBridge(cfg config.MatrixConfig, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config: cfg,
		matrix: client,
		logger: logger.With("component", "matrix"),
		queues: make(map[string][]dispatch.Inbound),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Login authenticates with username and password unless an access token is configured.
func (b *Bridge) Login(ctx context.Context) error {
	if b.config.AccessToken != "" {
		return nil
	}

	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Username,
		},
		Password:                 b.config.Password,
		InitialDeviceDisplayName: deviceDisplayName,
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("password login: %w", err)
	}

	b.logger.Info("logged in to matrix", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID is the bot's own Matrix user id.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run syncs until ctx is cancelled, passing room traffic to h.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	b.handler = h

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnSync(b.matrix.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	b.logger.Info("starting matrix sync", "homeserver", b.config.Homeserver, "user_id", b.UserID())

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.Close()
		return nil
	case err := <-syncErr:
		b.Close()
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close stops in-flight handling and waits for the room workers to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.matrix.UserID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return // edits
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	body := content.Body
	if b.config.CommandPrefix != "" {
		if !strings.HasPrefix(body, b.config.CommandPrefix) {
			return
		}
		body = strings.TrimSpace(strings.TrimPrefix(body, b.config.CommandPrefix))
	}
	if strings.TrimSpace(body) == "" {
		return
	}

	b.logger.Debug("received message", "room", roomID, "sender", evt.Sender.String(), "event_id", evt.ID.String())

	b.enqueue(dispatch.Inbound{
		ConversationID: roomID,
		EventID:        evt.ID.String(),
		Sender:         evt.Sender.String(),
		Text:           body,
	})
}

// handleMemberEvent joins rooms the bot is invited to and closes the
// conversation when another member leaves.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if evt.StateKey == nil {
		return
	}
	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		return
	}
	member := evt.Content.AsMember()
	self := *evt.StateKey == b.matrix.UserID.String()

	switch {
	case self && member.Membership == event.MembershipInvite:
		joinCtx, cancel := context.WithTimeout(b.ctx, networkTimeout)
		defer cancel()
		if _, err := b.matrix.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
			b.logger.Warn("failed to join room", "room", roomID, "error", err)
			return
		}
		b.logger.Info("joined room", "room", roomID, "inviter", evt.Sender.String())

	case !self && (member.Membership == event.MembershipLeave || member.Membership == event.MembershipBan):
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.handler.ConversationClosed(b.ctx, roomID); err != nil {
				b.logger.Warn("failed to close conversation", "room", roomID, "error", err)
			}
		}()
	}
}

func (b *Bridge) enqueue(msg dispatch.Inbound) {
	b.mu.Lock()
	pending, running := b.queues[msg.ConversationID]
	b.queues[msg.ConversationID] = append(pending, msg)
	if running {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.drain(msg.ConversationID)
}

// drain handles a room's messages until its queue is empty.
func (b *Bridge) drain(roomID string) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		pending := b.queues[roomID]
		if len(pending) == 0 {
			delete(b.queues, roomID)
			b.mu.Unlock()
			return
		}
		msg := pending[0]
		b.queues[roomID] = pending[1:]
		b.mu.Unlock()

		b.process(msg)
	}
}

func (b *Bridge) process(msg dispatch.Inbound) {
	if b.ctx.Err() != nil {
		return
	}
	if b.config.TypingIndicator {
		b.setTyping(id.RoomID(msg.ConversationID), true)
		defer b.setTyping(id.RoomID(msg.ConversationID), false)
	}

	if err := b.handler.Handle(b.ctx, msg); err != nil {
		b.logger.Error("failed to handle message", "room", msg.ConversationID, "event_id", msg.EventID, "error", err)
	}
}

func (b *Bridge) isRoomAllowed(roomID string) bool {
	return len(b.config.AllowedRooms) == 0 || slices.Contains(b.config.AllowedRooms, roomID)
}

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// SendText sends a markdown reply to a room.
func (b *Bridge) SendText(ctx context.Context, conversationID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := b.matrix.SendMessageEvent(ctx, id.RoomID(conversationID), event.EventMessage, textContent(text))
	if err != nil {
		return fmt.Errorf("sending to %s: %w", conversationID, err)
	}
	return nil
}

// ABOUTME: Tests for the Matrix bridge against a fake homeserver
// ABOUTME: Covers filtering, per-room ordering, membership handling and replies

package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/garage-assistant/internal/config"
	"github.com/2389/garage-assistant/internal/dispatch"
)

const (
	botID  = "@garage:example.org"
	roomID = "!service:example.org"
)

type request struct {
	method string
	path   string
	body   map[string]any
}

type homeserver struct {
	mu       sync.Mutex
	requests []request
}

func (h *homeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	h.mu.Lock()
	h.requests = append(h.requests, request{method: r.Method, path: r.URL.Path, body: body})
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/login"):
		_, _ = io.WriteString(w, `{"user_id": "`+botID+`", "access_token": "syt_abc", "device_id": "GARAGE1"}`)
	case strings.Contains(r.URL.Path, "/send/"):
		_, _ = io.WriteString(w, `{"event_id": "$reply"}`)
	case strings.Contains(r.URL.Path, "/join/"):
		_, _ = io.WriteString(w, `{"room_id": "`+roomID+`"}`)
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (h *homeserver) matching(fragment string) []request {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []request
	for _, r := range h.requests {
		if strings.Contains(r.path, fragment) {
			out = append(out, r)
		}
	}
	return out
}

type recordingHandler struct {
	mu      sync.Mutex
	inbound []dispatch.Inbound
	closed  []string
	delay   time.Duration
}

func (r *recordingHandler) Handle(ctx context.Context, msg dispatch.Inbound) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = append(r.inbound, msg)
	return nil
}

func (r *recordingHandler) ConversationClosed(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, conversationID)
	return nil
}

func (r *recordingHandler) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.inbound))
	for i, m := range r.inbound {
		out[i] = m.Text
	}
	return out
}

func newTestBridge(t *testing.T, mutate func(*config.MatrixConfig)) (*Bridge, *homeserver, *recordingHandler) {
	t.Helper()
	hs := &homeserver{}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	cfg := config.MatrixConfig{
		Homeserver:  srv.URL,
		UserID:      botID,
		AccessToken: "syt_abc",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBridge(cfg, nil)
	require.NoError(t, err)

	h := &recordingHandler{}
	b.handler = h
	t.Cleanup(b.Close)
	return b, hs, h
}

var eventSeq int

func textEvent(sender, room, body string) *event.Event {
	eventSeq++
	return &event.Event{
		Sender: id.UserID(sender),
		RoomID: id.RoomID(room),
		ID:     id.EventID(fmt.Sprintf("$evt%d", eventSeq)),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestHandleMessageEvent_PassesText(t *testing.T) {
	b, _, h := newTestBridge(t, nil)

	evt := textEvent("@ann:example.org", roomID, "book")
	b.handleMessageEvent(context.Background(), evt)
	b.wg.Wait()

	require.Len(t, h.inbound, 1)
	got := h.inbound[0]
	assert.Equal(t, roomID, got.ConversationID)
	assert.Equal(t, evt.ID.String(), got.EventID)
	assert.Equal(t, "@ann:example.org", got.Sender)
	assert.Equal(t, "book", got.Text)
}

func TestHandleMessageEvent_Filters(t *testing.T) {
	b, _, h := newTestBridge(t, func(c *config.MatrixConfig) {
		c.AllowedRooms = []string{roomID}
	})
	ctx := context.Background()

	b.handleMessageEvent(ctx, textEvent(botID, roomID, "own echo"))
	b.handleMessageEvent(ctx, textEvent("@ann:example.org", "!other:example.org", "elsewhere"))
	b.handleMessageEvent(ctx, textEvent("@ann:example.org", roomID, "   "))

	notice := textEvent("@ann:example.org", roomID, "a notice")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	b.handleMessageEvent(ctx, notice)

	edit := textEvent("@ann:example.org", roomID, "* edited")
	edit.Content.Parsed.(*event.MessageEventContent).RelatesTo = &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"}
	b.handleMessageEvent(ctx, edit)

	b.wg.Wait()
	assert.Empty(t, h.texts())
}

func TestHandleMessageEvent_CommandPrefix(t *testing.T) {
	b, _, h := newTestBridge(t, func(c *config.MatrixConfig) {
		c.CommandPrefix = "!garage"
	})
	ctx := context.Background()

	b.handleMessageEvent(ctx, textEvent("@ann:example.org", roomID, "just chatting"))
	b.handleMessageEvent(ctx, textEvent("@ann:example.org", roomID, "!garage status"))
	b.wg.Wait()

	assert.Equal(t, []string{"status"}, h.texts())
}

func TestHandleMessageEvent_KeepsRoomOrder(t *testing.T) {
	b, _, h := newTestBridge(t, nil)
	h.delay = time.Millisecond

	var want []string
	for i := 0; i < 15; i++ {
		text := strings.Repeat("m", i+1)
		want = append(want, text)
		b.handleMessageEvent(context.Background(), textEvent("@ann:example.org", roomID, text))
	}
	b.wg.Wait()

	assert.Equal(t, want, h.texts())
	assert.Empty(t, b.queues, "idle rooms have no worker")
}

func TestHandleMessageEvent_TypingIndicator(t *testing.T) {
	b, hs, _ := newTestBridge(t, func(c *config.MatrixConfig) {
		c.TypingIndicator = true
	})

	b.handleMessageEvent(context.Background(), textEvent("@ann:example.org", roomID, "help"))
	b.wg.Wait()

	typing := hs.matching("/typing/")
	require.Len(t, typing, 2)
	assert.Equal(t, true, typing[0].body["typing"])
	assert.Equal(t, false, typing[1].body["typing"])
}

func TestHandleMemberEvent(t *testing.T) {
	b, hs, h := newTestBridge(t, nil)
	ctx := context.Background()

	member := func(stateKey string, m event.Membership) *event.Event {
		return &event.Event{
			Sender:   "@ann:example.org",
			RoomID:   roomID,
			Type:     event.StateMember,
			StateKey: &stateKey,
			Content:  event.Content{Parsed: &event.MemberEventContent{Membership: m}},
		}
	}

	b.handleMemberEvent(ctx, member(botID, event.MembershipInvite))
	assert.Len(t, hs.matching("/join/"), 1)

	b.handleMemberEvent(ctx, member("@ann:example.org", event.MembershipJoin))
	b.handleMemberEvent(ctx, member("@ann:example.org", event.MembershipLeave))
	b.wg.Wait()
	assert.Equal(t, []string{roomID}, h.closed)
}

func TestSendText_RendersHTML(t *testing.T) {
	b, hs, _ := newTestBridge(t, nil)

	err := b.SendText(context.Background(), roomID, "**Please confirm:**\n\nVehicle: Toyota\nService: Oil change")
	require.NoError(t, err)

	sent := hs.matching("/send/m.room.message/")
	require.Len(t, sent, 1)
	body := sent[0].body
	assert.Equal(t, "m.text", body["msgtype"])
	assert.Equal(t, "**Please confirm:**\n\nVehicle: Toyota\nService: Oil change", body["body"])
	assert.Equal(t, "org.matrix.custom.html", body["format"])
	formatted, _ := body["formatted_body"].(string)
	assert.Contains(t, formatted, "<strong>Please confirm:</strong>")
	assert.Contains(t, formatted, "Vehicle: Toyota<br")
}

func TestTextContent_OmitsRawHTML(t *testing.T) {
	content := textContent("notes: <script>alert(1)</script>")
	assert.NotContains(t, content.FormattedBody, "<script>")
	assert.Equal(t, "notes: <script>alert(1)</script>", content.Body)
}

func TestLogin(t *testing.T) {
	b, hs, _ := newTestBridge(t, func(c *config.MatrixConfig) {
		c.UserID = ""
		c.AccessToken = ""
		c.Username = "garage"
		c.Password = "secret"
	})

	require.NoError(t, b.Login(context.Background()))
	assert.Equal(t, botID, b.UserID())

	logins := hs.matching("/login")
	require.Len(t, logins, 1)
	assert.Equal(t, "m.login.password", logins[0].body["type"])
	assert.Equal(t, "secret", logins[0].body["password"])
}

func TestLogin_AccessTokenSkips(t *testing.T) {
	b, hs, _ := newTestBridge(t, nil)
	require.NoError(t, b.Login(context.Background()))
	assert.Empty(t, hs.matching("/login"))
	assert.Equal(t, botID, b.UserID())
}

func TestAccountSlug(t *testing.T) {
	assert.Equal(t, "garage_example.org", accountSlug("@garage:example.org"))
	assert.Equal(t, "a-b_c..", accountSlug("a-b_c/../"))
}

func TestStoreKey(t *testing.T) {
	assert.Len(t, storeKey(botID), 32)
	assert.Equal(t, storeKey(botID), storeKey(botID))
	assert.NotEqual(t, storeKey(botID), storeKey("@other:example.org"))
}

func TestStoredDeviceDiffers_NoStore(t *testing.T) {
	stale, err := storedDeviceDiffers(t.TempDir()+"/missing.db", "DEV")
	require.NoError(t, err)
	assert.False(t, stale)
}

// ABOUTME: End-to-end booking through the dispatcher with real components
// ABOUTME: An httptest server stands in for the garage backend

package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/garage-assistant/internal/auth"
	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/booking"
	"github.com/2389/garage-assistant/internal/dedupe"
	"github.com/2389/garage-assistant/internal/dispatch"
	"github.com/2389/garage-assistant/internal/session"
	"github.com/2389/garage-assistant/internal/store"
)

type garageServer struct {
	mu           sync.Mutex
	appointments []map[string]any
	keys         []string
}

func (g *garageServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-42" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	write := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req backend.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		write(w, `{"user_id": 42, "token": "tok-42"}`)
	})
	mux.HandleFunc("GET /auth/me", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"id": 42, "email": "ann@example.com"}`)
	}))
	mux.HandleFunc("GET /vehicles", authed(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("owner"))
		write(w, `[{"id": 7, "make": "Toyota", "model": "Corolla", "year": 2019, "license_plate": "AB-123"}]`)
	}))
	mux.HandleFunc("GET /services", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, `{"items": [{"id": 1, "name": "Oil change"}]}`)
	}))
	mux.HandleFunc("GET /stations", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, `[{"id": 10, "name": "Station A"}, {"id": 11, "name": "Station B"}]`)
	}))
	mux.HandleFunc("GET /staff", authed(func(w http.ResponseWriter, r *http.Request) {
		write(w, `[{"id": 100, "name": "Ann", "station_id": 10}, {"id": 101, "name": "Ben", "station_id": 11}]`)
	}))
	mux.HandleFunc("POST /appointments", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		g.mu.Lock()
		g.appointments = append(g.appointments, body)
		g.keys = append(g.keys, r.Header.Get("Idempotency-Key"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		write(w, `{"id": 500, "status": "booked", "scheduled_time": "`+body["scheduled_time"].(string)+`"}`)
	}))
	return mux
}

type transcript struct {
	mu   sync.Mutex
	sent []string
}

func (tr *transcript) SendText(ctx context.Context, conversationID, text string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sent = append(tr.sent, text)
	return nil
}

func (tr *transcript) last() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sent[len(tr.sent)-1]
}

func TestBookingEndToEnd(t *testing.T) {
	garage := &garageServer{}
	srv := httptest.NewServer(garage.handler(t))
	defer srv.Close()

	client := backend.New(backend.Options{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	accounts := auth.NewService(store.NewMockStore(), client, auth.Options{Extractor: auth.NewJWTExpiryExtractor()})
	out := &transcript{}
	flow := booking.New(client, accounts, session.NewMemoryStore(time.Hour, nil), out, booking.Options{
		Menu: dispatch.MenuText,
		Now:  func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
	})
	d := dispatch.New(flow, accounts, client, out, dispatch.Options{Dedupe: dedupe.NewWindow(time.Minute, 0)})

	ctx := context.Background()
	send := func(text string) {
		t.Helper()
		require.NoError(t, d.Handle(ctx, dispatch.Inbound{ConversationID: "!garage:example.org", Text: text}))
	}

	send("book")
	assert.Equal(t, booking.MsgLoginRequired, out.last())

	send("login ann@example.com hunter2")
	assert.Contains(t, out.last(), "You are logged in")

	send("book")
	assert.Contains(t, out.last(), "1. Toyota Corolla (2019) AB-123")

	for _, text := range []string{"1", "1", "1", "1", "Monday, 19 October", "10:00", "skip"} {
		send(text)
	}
	assert.Contains(t, out.last(), "Staff: Ann")
	assert.Contains(t, out.last(), "Notes: (none)")

	send("confirm")
	assert.Contains(t, out.last(), "Your appointment is booked: Oil change on Monday, 19 October at 10:00, Station A.")

	garage.mu.Lock()
	defer garage.mu.Unlock()
	require.Len(t, garage.appointments, 1)
	got := garage.appointments[0]
	assert.EqualValues(t, 42, got["user_id"])
	assert.EqualValues(t, 1, got["service_id"])
	assert.EqualValues(t, 100, got["staff_id"])
	assert.EqualValues(t, 10, got["station_id"])
	assert.EqualValues(t, 7, got["vehicle_id"])
	assert.Equal(t, "2026-10-19T10:00:00Z", got["scheduled_time"])
	assert.Equal(t, "", got["notes"])
	assert.NotEmpty(t, garage.keys[0])

	send("1")
	assert.Equal(t, dispatch.MsgUnknownCommand, out.last(), "the dialogue is over")
}

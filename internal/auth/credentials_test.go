// ABOUTME: Tests for the credential service
// ABOUTME: Covers link expiry derivation, auto-unlink, remote check policy, and preferences

package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/garage-assistant/internal/backend"
	"github.com/2389/garage-assistant/internal/store"
)

const room = "!room:example.org"

// fakeChecker answers WhoAmI with a fixed error and counts calls.
type fakeChecker struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeChecker) WhoAmI(ctx context.Context, token string) (*backend.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Identity{ID: "42"}, nil
}

func (f *fakeChecker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts Options) (*Service, *store.MockStore, *fakeChecker, *clock) {
	t.Helper()
	identities := store.NewMockStore()
	checker := &fakeChecker{}
	clk := &clock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	if opts.Extractor == nil {
		opts.Extractor = NewJWTExpiryExtractor()
	}
	return NewService(identities, checker, opts), identities, checker, clk
}

func TestLink_ExplicitExpiry(t *testing.T) {
	svc, identities, _, clk := newTestService(t, Options{})
	ctx := context.Background()

	expires := clk.Now().Add(30 * time.Minute)
	require.NoError(t, svc.Link(ctx, room, "42", "opaque-token", &expires))

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	require.NotNil(t, ident.TokenExpiresAt)
	assert.True(t, expires.Equal(*ident.TokenExpiresAt))
}

func TestLink_ExpiryFromJWT(t *testing.T) {
	svc, identities, _, clk := newTestService(t, Options{})
	ctx := context.Background()

	exp := clk.Now().Add(6 * time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("s"))
	require.NoError(t, err)

	require.NoError(t, svc.Link(ctx, room, "42", token, nil))

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	assert.True(t, exp.Equal(*ident.TokenExpiresAt))
}

func TestLink_DefaultLifetime(t *testing.T) {
	svc, identities, _, clk := newTestService(t, Options{})
	ctx := context.Background()

	require.NoError(t, svc.Link(ctx, room, "42", "opaque-token", nil))

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	assert.True(t, clk.Now().Add(time.Hour).Equal(*ident.TokenExpiresAt))
}

func TestLink_RejectsMissingFields(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	err := svc.Link(context.Background(), room, "", "token", nil)
	assert.ErrorIs(t, err, store.ErrInvalidIdentity)
}

func TestRequireCredentials_NoRecord(t *testing.T) {
	svc, _, checker, _ := newTestService(t, Options{})

	_, err := svc.RequireCredentials(context.Background(), room)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, checker.Calls(), "no remote check without credentials")
}

func TestRequireCredentials_UnlinkedRecord(t *testing.T) {
	svc, identities, _, _ := newTestService(t, Options{})
	ctx := context.Background()
	require.NoError(t, identities.SetLanguage(ctx, room, "de"))

	_, err := svc.RequireCredentials(ctx, room)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRequireCredentials_Valid(t *testing.T) {
	svc, identities, checker, clk := newTestService(t, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))

	creds, err := svc.RequireCredentials(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, Credentials{AccountID: "42", Token: "tok"}, creds)
	assert.Equal(t, 1, checker.Calls())

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	require.NotNil(t, ident.LastRemoteCheckAt)
	assert.True(t, clk.Now().Equal(*ident.LastRemoteCheckAt))
}

func TestRequireCredentials_LocallyExpiredAutoUnlinks(t *testing.T) {
	svc, identities, checker, clk := newTestService(t, Options{})
	ctx := context.Background()
	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))

	clk.Advance(time.Hour + time.Second)

	_, err := svc.RequireCredentials(ctx, room)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Zero(t, checker.Calls(), "expired tokens are not sent to the backend")

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	assert.False(t, ident.HasCredentials())

	_, err = svc.RequireCredentials(ctx, room)
	assert.ErrorIs(t, err, ErrUnauthenticated, "after auto-unlink the record is plain unlinked")
}

func TestRequireCredentials_RemoteRejectionAutoUnlinks(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		svc, identities, checker, _ := newTestService(t, Options{})
		ctx := context.Background()
		require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))
		checker.err = &backend.APIError{Endpoint: "me", StatusCode: status}

		_, err := svc.RequireCredentials(ctx, room)
		assert.ErrorIs(t, err, ErrTokenExpired, "status %d", status)

		ident, err := identities.GetIdentity(ctx, room)
		require.NoError(t, err)
		assert.False(t, ident.HasCredentials(), "status %d", status)
	}
}

func TestRequireCredentials_InconclusiveKeepsLink(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", &backend.APIError{Endpoint: "me", StatusCode: http.StatusInternalServerError}},
		{"not found", &backend.APIError{Endpoint: "me", StatusCode: http.StatusNotFound}},
		{"network", errors.New("dial tcp: connection refused")},
		{"timeout", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, identities, checker, _ := newTestService(t, Options{})
			ctx := context.Background()
			require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))
			checker.err = tt.err

			creds, err := svc.RequireCredentials(ctx, room)
			require.NoError(t, err)
			assert.Equal(t, "tok", creds.Token)

			linked, err := svc.IsLinked(ctx, room)
			require.NoError(t, err)
			assert.True(t, linked)

			ident, err := identities.GetIdentity(ctx, room)
			require.NoError(t, err)
			assert.True(t, ident.HasCredentials())
			assert.Nil(t, ident.LastRemoteCheckAt, "inconclusive checks are not recorded as successful")
		})
	}
}

func TestRequireCredentials_StrictInconclusiveFails(t *testing.T) {
	svc, identities, checker, _ := newTestService(t, Options{StrictRemoteCheck: true})
	ctx := context.Background()
	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))
	checker.err = &backend.APIError{Endpoint: "me", StatusCode: http.StatusBadGateway}

	_, err := svc.RequireCredentials(ctx, room)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, backend.StatusCode(err))

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	assert.True(t, ident.HasCredentials(), "strict mode fails the call but does not unlink")
}

func TestRequireCredentials_RecheckInterval(t *testing.T) {
	svc, _, checker, clk := newTestService(t, Options{RecheckInterval: 5 * time.Minute})
	ctx := context.Background()
	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))

	_, err := svc.RequireCredentials(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, checker.Calls())

	clk.Advance(time.Minute)
	_, err = svc.RequireCredentials(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, checker.Calls(), "recent successful check is reused")

	clk.Advance(5 * time.Minute)
	_, err = svc.RequireCredentials(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 2, checker.Calls())
}

func TestIsLinked(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	linked, err := svc.IsLinked(ctx, room)
	require.NoError(t, err)
	assert.False(t, linked)

	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))
	linked, err = svc.IsLinked(ctx, room)
	require.NoError(t, err)
	assert.True(t, linked)

	require.NoError(t, svc.Unlink(ctx, room))
	linked, err = svc.IsLinked(ctx, room)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestLanguagePreference(t *testing.T) {
	svc, identities, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	lang, err := svc.GetLanguage(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, lang)

	require.NoError(t, svc.Link(ctx, room, "42", "tok", nil))
	got, err := svc.SetLanguage(ctx, room, "de-de")
	require.NoError(t, err)
	assert.Equal(t, "de-DE", got)

	lang, err = svc.GetLanguage(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, "de-DE", lang)

	ident, err := identities.GetIdentity(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, "tok", ident.Token, "language change leaves credentials alone")

	_, err = svc.SetLanguage(ctx, room, "not a language!")
	assert.Error(t, err)
}

func TestToggleNotifications(t *testing.T) {
	svc, _, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	enabled, err := svc.ToggleNotifications(ctx, room)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = svc.ToggleNotifications(ctx, room)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestStorageFailuresSurface(t *testing.T) {
	svc, identities, _, _ := newTestService(t, Options{})
	identities.Err = errors.New("disk full")

	err := svc.Link(context.Background(), room, "42", "tok", nil)
	assert.ErrorContains(t, err, "disk full")

	_, err = svc.ToggleNotifications(context.Background(), room)
	assert.ErrorContains(t, err, "disk full")
}

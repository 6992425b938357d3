// ABOUTME: Tests for the in-memory session store
// ABOUTME: Covers copy semantics, idle expiry, and pruning

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/garage-assistant/internal/backend"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func sampleSession(id string) *FlowSession {
	return &FlowSession{
		ConversationID: id,
		AccountID:      "42",
		Step:           StepSelectService,
		Catalog: Catalog{
			Vehicles: []backend.Vehicle{{ID: "7", Make: "Toyota", Model: "Corolla"}},
			Services: []backend.Service{{ID: "1", Name: "Oil change"}},
			Stations: []backend.Station{{ID: "10", Name: "Station A"}},
		},
		Selection: Selection{Vehicle: &backend.Vehicle{ID: "7", Make: "Toyota", Model: "Corolla"}},
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore(time.Hour, nil))
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(0, nil)
	require.NoError(t, m.Set(ctx, sampleSession("!a")))

	got, err := m.Get(ctx, "!a")
	require.NoError(t, err)
	got.Step = StepConfirm
	got.Selection.Vehicle.Model = "Yaris"
	got.Catalog.Services[0].Name = "Changed"

	again, err := m.Get(ctx, "!a")
	require.NoError(t, err)
	assert.Equal(t, StepSelectService, again.Step)
	assert.Equal(t, "Corolla", again.Selection.Vehicle.Model)
	assert.Equal(t, "Oil change", again.Catalog.Services[0].Name)
}

func TestMemoryStore_SetStoresCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(0, nil)
	s := sampleSession("!a")
	require.NoError(t, m.Set(ctx, s))

	s.Step = StepAddNotes

	got, err := m.Get(ctx, "!a")
	require.NoError(t, err)
	assert.Equal(t, StepSelectService, got.Step)
}

func TestMemoryStore_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	m := NewMemoryStore(10*time.Minute, clk.Now)

	require.NoError(t, m.Set(ctx, sampleSession("!a")))

	clk.now = clk.now.Add(9 * time.Minute)
	s, err := m.Get(ctx, "!a")
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, s))

	clk.now = clk.now.Add(9 * time.Minute)
	_, err = m.Get(ctx, "!a")
	require.NoError(t, err, "Set refreshes the idle timer")

	clk.now = clk.now.Add(10 * time.Minute)
	_, err = m.Get(ctx, "!a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_PrunesOnSet(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	m := NewMemoryStore(time.Minute, clk.Now)

	require.NoError(t, m.Set(ctx, sampleSession("!a")))
	require.NoError(t, m.Set(ctx, sampleSession("!b")))
	assert.Equal(t, 2, m.Len())

	clk.now = clk.now.Add(2 * time.Minute)
	require.NoError(t, m.Set(ctx, sampleSession("!c")))
	assert.Equal(t, 1, m.Len())
}

func TestFlowSession_Clone(t *testing.T) {
	notes := "rattle"
	s := sampleSession("!a")
	s.Selection.Notes = &notes

	c := s.Clone()
	*c.Selection.Notes = "changed"
	c.Catalog.Vehicles[0].Make = "Ford"

	assert.Equal(t, "rattle", *s.Selection.Notes)
	assert.Equal(t, "Toyota", s.Catalog.Vehicles[0].Make)
	assert.Nil(t, (*FlowSession)(nil).Clone())
}

func TestStep_Terminal(t *testing.T) {
	for _, s := range []Step{StepSubmitted, StepCancelled, StepFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Step{StepSelectVehicle, StepSelectStaff, StepConfirm} {
		assert.False(t, s.Terminal(), s)
	}
}

// runStoreContract exercises behavior every Store must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "!missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, "!missing"))

	notes := ""
	in := sampleSession("!room")
	in.Step = StepConfirm
	in.Selection.Service = &backend.Service{ID: "1", Name: "Oil change"}
	in.Selection.Station = &backend.Station{ID: "10", Name: "Station A"}
	in.Selection.Staff = &backend.Staff{ID: "100", Name: "Ann", StationID: "10"}
	in.Selection.Date = "2026-10-19"
	in.Selection.Time = "10:00"
	in.Selection.Notes = &notes
	require.NoError(t, store.Set(ctx, in))

	got, err := store.Get(ctx, "!room")
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, got.Step)
	assert.Equal(t, "42", got.AccountID)
	assert.Equal(t, backend.ID("100"), got.Selection.Staff.ID)
	assert.Equal(t, "2026-10-19", got.Selection.Date)
	assert.Equal(t, "10:00", got.Selection.Time)
	require.NotNil(t, got.Selection.Notes, "an empty note is distinct from no note")
	assert.Equal(t, "", *got.Selection.Notes)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Len(t, got.Catalog.Services, 1)

	require.NoError(t, store.Delete(ctx, "!room"))
	_, err = store.Get(ctx, "!room")
	assert.ErrorIs(t, err, ErrNotFound)
}

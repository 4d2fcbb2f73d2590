package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
	"zapdesk/internal/notify"
)

func TestRestoreReconnectsAndFlagsFailures(t *testing.T) {
	dialer := newFakeDialer()
	env := newTestEnv(t, dialer)
	ctx := context.Background()

	require.NoError(t, env.store.UpdateSessionStatus(ctx, env.session.ID, models.SessionConnected))

	broken := &models.Session{ID: uuid.NewString(), CompanyID: env.company.ID, Name: "broken", Status: models.SessionDisconnected}
	require.NoError(t, env.store.CreateSession(ctx, broken))
	require.NoError(t, env.store.SaveSessionQR(ctx, broken.ID, "stale-qr", time.Now().Add(time.Minute)))
	dialer.failIDs[broken.ID] = true

	idle := &models.Session{ID: uuid.NewString(), CompanyID: env.company.ID, Name: "idle", Status: models.SessionDisconnected}
	require.NoError(t, env.store.CreateSession(ctx, idle))

	env.registry.Restore(ctx)

	assert.NotNil(t, env.registry.Get(env.session.ID))

	rec, err := env.store.GetSession(ctx, broken.ID)
	require.NoError(t, err)
	assert.True(t, rec.ReauthRequired)
	assert.Equal(t, models.SessionDisconnected, rec.Status)

	assert.Nil(t, env.registry.Get(idle.ID))
	assert.Empty(t, dialer.caps[idle.ID])
}

func TestCleanupInactiveDropsDisconnected(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	env.dialer.lastCap(env.session.ID).dropLink()

	removed := env.registry.CleanupInactive(ctx)
	assert.Equal(t, 1, removed)
	assert.Nil(t, env.registry.Get(env.session.ID))

	assert.Zero(t, env.registry.CleanupInactive(ctx))
}

func TestStopSessionDropsSubscriptions(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)

	var got []notify.Event
	env.registry.Subscribe(env.session.ID, notify.EventAll, func(e notify.Event) { got = append(got, e) })

	require.NoError(t, env.registry.StopSession(ctx, env.session.ID))
	seen := len(got)

	// After stop, session-scoped subscriptions are gone.
	env.bus.Publish(notify.Event{Type: notify.EventNewMessage, SessionID: env.session.ID})
	assert.Len(t, got, seen)
}

func TestStatsCountsByStatus(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	second := &models.Session{ID: uuid.NewString(), CompanyID: env.company.ID, Name: "second", Status: models.SessionDisconnected}
	require.NoError(t, env.store.CreateSession(ctx, second))

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	_, err = env.registry.StartSession(ctx, second.ID)
	require.NoError(t, err)
	env.dialer.lastCap(second.ID).dropLink()

	stats := env.registry.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["connected"])
	byStatus := stats["byStatus"].(map[string]int)
	assert.Equal(t, 1, byStatus["connected"])
	assert.Equal(t, 1, byStatus["disconnected"])
}

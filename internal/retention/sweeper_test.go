package retention

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

type fakeDirectory struct {
	profiles map[string][2]string
}

func (f *fakeDirectory) Contact(ctx context.Context, sessionID, chatJID string) (string, string, error) {
	p, ok := f.profiles[chatJID]
	if !ok {
		return "", "", nil
	}
	return p[0], p[1], nil
}

type sweeperEnv struct {
	store     *store.Store
	sweeper   *Sweeper
	directory *fakeDirectory
	company   *models.Company
	session   *models.Session
	client    *models.Client
	chat      *models.Chat
}

func newSweeperEnv(t *testing.T) *sweeperEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", "file:"+t.TempDir()+"/test.db?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	company := &models.Company{ID: uuid.NewString(), Name: "Acme", RetentionDays: 30, CacheFetchedDays: 7, MediaProvider: "base64"}
	require.NoError(t, st.CreateCompany(ctx, company))

	session := &models.Session{ID: uuid.NewString(), CompanyID: company.ID, Name: "line", Status: models.SessionConnected}
	require.NoError(t, st.CreateSession(ctx, session))

	client := &models.Client{ID: uuid.NewString(), CompanyID: company.ID, Name: "Maria", WhatsAppNumber: "5511999990000", WaUserID: "5511999990000@c.us"}
	require.NoError(t, st.CreateClient(ctx, client))

	chat := &models.Chat{ID: uuid.NewString(), CompanyID: company.ID, SessionID: session.ID, WaChatID: "5511999990000@c.us", Type: models.ChatIndividual, ClientID: &client.ID}
	require.NoError(t, st.CreateChat(ctx, chat))

	directory := &fakeDirectory{profiles: map[string][2]string{}}
	return &sweeperEnv{
		store:     st,
		sweeper:   NewSweeper(st, NewNormalizer("55", "11"), directory),
		directory: directory,
		company:   company, session: session, client: client, chat: chat,
	}
}

func (env *sweeperEnv) seedMessage(t *testing.T, waID string, createdAt time.Time, fetched bool, cacheUntil *time.Time) *models.Message {
	t.Helper()
	m := &models.Message{
		ID:                  uuid.NewString(),
		CompanyID:           env.company.ID,
		SessionID:           env.session.ID,
		ChatID:              env.chat.ID,
		WaMessageID:         waID,
		Direction:           models.DirectionIn,
		Ack:                 models.AckServer,
		CreatedAt:           createdAt,
		FetchedFromWhatsApp: fetched,
		CacheUntil:          cacheUntil,
	}
	require.NoError(t, env.store.CreateMessage(context.Background(), m))
	return m
}

func TestWindowWithNoChatsReportsNone(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()

	other := &models.Client{ID: uuid.NewString(), CompanyID: env.company.ID, Name: "Nobody", WhatsAppNumber: "5511888880000", WaUserID: "x"}
	require.NoError(t, env.store.CreateClient(ctx, other))

	win, err := env.sweeper.GetMessagesWithRetention(ctx, env.company.ID, other.ID, env.session.ID, time.Now().Add(-time.Hour), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, "none", win.Source)
	assert.Empty(t, win.Messages)
	assert.False(t, win.HasMore)
}

func TestWindowReturnsChronologicalOrder(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	now := time.Now()

	env.seedMessage(t, "M1", now.Add(-3*time.Minute), false, nil)
	env.seedMessage(t, "M2", now.Add(-2*time.Minute), false, nil)
	env.seedMessage(t, "M3", now.Add(-time.Minute), false, nil)

	win, err := env.sweeper.GetMessagesWithRetention(ctx, env.company.ID, env.client.ID, env.session.ID, now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	assert.Equal(t, "database", win.Source)
	assert.False(t, win.HasMore)
	require.Len(t, win.Messages, 3)
	assert.Equal(t, "M1", win.Messages[0].WaMessageID)
	assert.Equal(t, "M3", win.Messages[2].WaMessageID)
}

func TestWindowLimitKeepsNewestAndFlagsMore(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	now := time.Now()

	env.seedMessage(t, "OLDEST", now.Add(-3*time.Minute), false, nil)
	env.seedMessage(t, "MID", now.Add(-2*time.Minute), false, nil)
	env.seedMessage(t, "NEWEST", now.Add(-time.Minute), false, nil)

	win, err := env.sweeper.GetMessagesWithRetention(ctx, env.company.ID, env.client.ID, env.session.ID, now.Add(-time.Hour), now, 2)
	require.NoError(t, err)
	assert.True(t, win.HasMore)
	require.Len(t, win.Messages, 2)
	// The limit trims the oldest rows, and results stay chronological.
	assert.Equal(t, "MID", win.Messages[0].WaMessageID)
	assert.Equal(t, "NEWEST", win.Messages[1].WaMessageID)
}

func TestWindowExcludesExpiredCache(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	now := time.Now()
	valid := now.Add(time.Hour)
	expired := now.Add(-time.Minute)

	env.seedMessage(t, "LIVE", now.Add(-3*time.Minute), false, nil)
	env.seedMessage(t, "CACHED", now.Add(-2*time.Minute), true, &valid)
	env.seedMessage(t, "STALE", now.Add(-time.Minute), true, &expired)

	win, err := env.sweeper.GetMessagesWithRetention(ctx, env.company.ID, env.client.ID, env.session.ID, now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	require.Len(t, win.Messages, 2)
	assert.Equal(t, "LIVE", win.Messages[0].WaMessageID)
	assert.Equal(t, "CACHED", win.Messages[1].WaMessageID)
}

func TestCleanOldMessagesPerTenant(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	now := time.Now()

	// Second tenant with no retention keeps everything.
	keepAll := &models.Company{ID: uuid.NewString(), Name: "Keeper", RetentionDays: 0, MediaProvider: "base64"}
	require.NoError(t, env.store.CreateCompany(ctx, keepAll))
	sess2 := &models.Session{ID: uuid.NewString(), CompanyID: keepAll.ID, Name: "line2", Status: models.SessionConnected}
	require.NoError(t, env.store.CreateSession(ctx, sess2))
	chat2 := &models.Chat{ID: uuid.NewString(), CompanyID: keepAll.ID, SessionID: sess2.ID, WaChatID: "5511777770000@c.us", Type: models.ChatIndividual}
	require.NoError(t, env.store.CreateChat(ctx, chat2))

	old := now.AddDate(0, 0, -60)
	env.seedMessage(t, "DOOMED", old, false, nil)
	cacheUntil := now.Add(time.Hour)
	env.seedMessage(t, "EXEMPT", old, true, &cacheUntil)
	env.seedMessage(t, "FRESH", now, false, nil)

	keeper := &models.Message{
		ID: uuid.NewString(), CompanyID: keepAll.ID, SessionID: sess2.ID, ChatID: chat2.ID,
		WaMessageID: "KEEPER", Direction: models.DirectionIn, CreatedAt: old,
	}
	require.NoError(t, env.store.CreateMessage(ctx, keeper))

	removed, err := env.sweeper.CleanOldMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = env.store.GetMessage(ctx, keeper.ID)
	assert.NoError(t, err)

	// Running again removes nothing.
	removed, err = env.sweeper.CleanOldMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleanExpiredCache(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	now := time.Now()
	expired := now.Add(-time.Minute)
	valid := now.Add(time.Hour)

	env.seedMessage(t, "STALE", now.Add(-time.Hour), true, &expired)
	env.seedMessage(t, "CACHED", now.Add(-time.Hour), true, &valid)
	env.seedMessage(t, "LIVE", now.Add(-time.Hour), false, nil)

	removed, err := env.sweeper.CleanExpiredCache(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = env.sweeper.CleanExpiredCache(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSyncClientsFromChats(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()

	// Chat with a short-form number and no client record.
	orphan := &models.Chat{ID: uuid.NewString(), CompanyID: env.company.ID, SessionID: env.session.ID, WaChatID: "11999990001@c.us", Type: models.ChatIndividual}
	require.NoError(t, env.store.CreateChat(ctx, orphan))

	// Chat whose normalized number matches an existing client.
	existing := &models.Client{ID: uuid.NewString(), CompanyID: env.company.ID, Name: "Joao", WhatsAppNumber: "5511999990002", WaUserID: "x"}
	require.NoError(t, env.store.CreateClient(ctx, existing))
	known := &models.Chat{ID: uuid.NewString(), CompanyID: env.company.ID, SessionID: env.session.ID, WaChatID: "11999990002@c.us", Type: models.ChatIndividual}
	require.NoError(t, env.store.CreateChat(ctx, known))

	// Group chats are skipped.
	group := &models.Chat{ID: uuid.NewString(), CompanyID: env.company.ID, SessionID: env.session.ID, WaChatID: "12036304@g.us", Type: models.ChatGroup}
	require.NoError(t, env.store.CreateChat(ctx, group))

	// The live session knows this contact's profile.
	env.directory.profiles["11999990001@c.us"] = [2]string{"Pedro", "https://pps.example/pedro.jpg"}

	result, err := env.sweeper.SyncClientsFromChats(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewClients)
	// env.chat's client plus Joao's chat.
	assert.Equal(t, 2, result.ExistingClients)

	newClient, err := env.store.GetClientByNumber(ctx, env.company.ID, "5511999990001")
	require.NoError(t, err)
	assert.Equal(t, "Pedro", newClient.Name)
	require.NotNil(t, newClient.ProfilePicURL)
	assert.Equal(t, "https://pps.example/pedro.jpg", *newClient.ProfilePicURL)

	gotOrphan, err := env.store.GetChat(ctx, orphan.ID)
	require.NoError(t, err)
	require.NotNil(t, gotOrphan.ClientID)
	assert.Equal(t, newClient.ID, *gotOrphan.ClientID)

	gotKnown, err := env.store.GetChat(ctx, known.ID)
	require.NoError(t, err)
	require.NotNil(t, gotKnown.ClientID)
	assert.Equal(t, existing.ID, *gotKnown.ClientID)

	// Second run creates nothing and reports everyone as existing.
	result, err = env.sweeper.SyncClientsFromChats(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Zero(t, result.NewClients)
	assert.Equal(t, 3, result.ExistingClients)
}

func TestSyncClientsWithoutDirectoryFallsBackToNumber(t *testing.T) {
	env := newSweeperEnv(t)
	ctx := context.Background()
	env.sweeper = NewSweeper(env.store, NewNormalizer("55", "11"), nil)

	orphan := &models.Chat{ID: uuid.NewString(), CompanyID: env.company.ID, SessionID: env.session.ID, WaChatID: "11999990003@c.us", Type: models.ChatIndividual}
	require.NoError(t, env.store.CreateChat(ctx, orphan))

	result, err := env.sweeper.SyncClientsFromChats(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewClients)

	created, err := env.store.GetClientByNumber(ctx, env.company.ID, "5511999990003")
	require.NoError(t, err)
	assert.Equal(t, "5511999990003", created.Name)
	assert.Nil(t, created.ProfilePicURL)
}

func TestSyncClientsUnknownSession(t *testing.T) {
	env := newSweeperEnv(t)
	_, err := env.sweeper.SyncClientsFromChats(context.Background(), "nope")
	assert.True(t, store.IsNotFound(err))
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/media"
	"zapdesk/internal/models"
	"zapdesk/internal/notify"
	"zapdesk/internal/store"
)

type fakeCap struct {
	mu        sync.Mutex
	connected bool
	qrCodes   []string
	contact   ContactInfo

	onMessage func(InboundMessage)
	onAck     func(AckEvent)
	onState   func(ConnState)

	sentTexts []sentText
	closed    int
	loggedOut bool
}

type sentText struct {
	chatJID string
	text    string
}

func (f *fakeCap) Pair(ctx context.Context, onCode func(string), onState func(ConnState)) error {
	f.mu.Lock()
	f.onState = onState
	codes := f.qrCodes
	f.mu.Unlock()

	for _, code := range codes {
		onCode(code)
	}
	if len(codes) == 0 {
		// Already paired devices reconnect directly.
		f.scanSuccess()
	}
	return nil
}

func (f *fakeCap) scanSuccess() {
	f.mu.Lock()
	f.connected = true
	onState := f.onState
	f.mu.Unlock()
	if onState != nil {
		onState(ConnConnected)
	}
}

func (f *fakeCap) dropLink() {
	f.mu.Lock()
	f.connected = false
	onState := f.onState
	f.mu.Unlock()
	if onState != nil {
		onState(ConnDisconnected)
	}
}

func (f *fakeCap) logoutRemote() {
	f.mu.Lock()
	f.connected = false
	onState := f.onState
	f.mu.Unlock()
	if onState != nil {
		onState(ConnLoggedOut)
	}
}

func (f *fakeCap) emitMessage(im InboundMessage) {
	f.mu.Lock()
	cb := f.onMessage
	f.mu.Unlock()
	if cb != nil {
		cb(im)
	}
}

func (f *fakeCap) emitAck(evt AckEvent) {
	f.mu.Lock()
	cb := f.onAck
	f.mu.Unlock()
	if cb != nil {
		cb(evt)
	}
}

func (f *fakeCap) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeCap) SendText(ctx context.Context, chatJID, text string) (*SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, sentText{chatJID: chatJID, text: text})
	return &SentMessage{WaMessageID: fmt.Sprintf("OUT-%d", len(f.sentTexts)), Timestamp: time.Now()}, nil
}

func (f *fakeCap) SendFile(ctx context.Context, chatJID string, data []byte, mimeType, fileName, caption string) (*SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTexts = append(f.sentTexts, sentText{chatJID: chatJID, text: "file:" + fileName})
	return &SentMessage{WaMessageID: fmt.Sprintf("OUT-%d", len(f.sentTexts)), Timestamp: time.Now()}, nil
}

func (f *fakeCap) OnMessage(cb func(InboundMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = cb
}

func (f *fakeCap) OnAck(cb func(AckEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAck = cb
}

func (f *fakeCap) GetContact(ctx context.Context, chatJID string) (*ContactInfo, error) {
	return &f.contact, nil
}

func (f *fakeCap) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed++
}

func (f *fakeCap) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.connected = false
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	qrCodes []string
	failIDs map[string]bool
	caps    map[string][]*fakeCap
	cleaned []string
}

func newFakeDialer(qrCodes ...string) *fakeDialer {
	return &fakeDialer{
		qrCodes: qrCodes,
		failIDs: make(map[string]bool),
		caps:    make(map[string][]*fakeCap),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, sessionID string) (Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[sessionID] {
		return nil, errors.New("dial refused")
	}
	c := &fakeCap{qrCodes: d.qrCodes}
	d.caps[sessionID] = append(d.caps[sessionID], c)
	return c, nil
}

func (d *fakeDialer) Cleanup(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleaned = append(d.cleaned, sessionID)
	return nil
}

func (d *fakeDialer) lastCap(sessionID string) *fakeCap {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := d.caps[sessionID]
	if len(caps) == 0 {
		return nil
	}
	return caps[len(caps)-1]
}

type recordedCall struct {
	clientID string
	chatID   string
	body     string
}

type fakeAutomation struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (a *fakeAutomation) HandleClientMessage(ctx context.Context, client *models.Client, chat *models.Chat, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, recordedCall{clientID: client.ID, chatID: chat.ID, body: body})
}

type testEnv struct {
	store    *store.Store
	dialer   *fakeDialer
	registry *Registry
	bus      *notify.Bus
	company  *models.Company
	session  *models.Session
	auto     *fakeAutomation
}

func newTestEnv(t *testing.T, dialer *fakeDialer) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", "file:"+t.TempDir()+"/test.db?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	company := &models.Company{ID: uuid.NewString(), Name: "Acme", RetentionDays: 30, CacheFetchedDays: 7, MediaProvider: "base64"}
	require.NoError(t, st.CreateCompany(ctx, company))

	sess := &models.Session{ID: uuid.NewString(), CompanyID: company.ID, Name: "line", Status: models.SessionDisconnected}
	require.NoError(t, st.CreateSession(ctx, sess))

	bus := notify.NewBus()
	auto := &fakeAutomation{}
	registry := NewRegistry(st, dialer, notify.NewDispatcher(bus, nil), media.NewBase64Storage(), 300*time.Millisecond, 0)
	registry.SetAutomation(auto)

	return &testEnv{store: st, dialer: dialer, registry: registry, bus: bus, company: company, session: sess, auto: auto}
}

func inboundText(waID, chatJID, pushName, body string) InboundMessage {
	return InboundMessage{
		WaMessageID: waID,
		ChatJID:     chatJID,
		SenderJID:   chatJID,
		PushName:    pushName,
		Timestamp:   time.Now(),
		Type:        models.MessageText,
		Body:        body,
	}
}

func TestStartSessionGeneratesQR(t *testing.T) {
	env := newTestEnv(t, newFakeDialer("pair-code-1"))
	ctx := context.Background()

	var events []notify.Event
	env.bus.Subscribe("", notify.EventQRCode, func(e notify.Event) { events = append(events, e) })

	qr, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Contains(t, qr, "data:image/png;base64,")

	rec, err := env.store.GetSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionQrPending, rec.Status)
	require.NotNil(t, rec.QRCode)
	require.NotNil(t, rec.QRExpiresAt)

	require.Len(t, events, 1)
	assert.Equal(t, env.session.ID, events[0].SessionID)

	assert.Equal(t, qr, env.registry.QR(env.session.ID))
}

func TestStartSessionReconnectsPairedDevice(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	qr, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Empty(t, qr)

	status, err := env.registry.Status(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionConnected, status)

	rec, err := env.store.GetSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionConnected, rec.Status)
}

func TestStartSessionUnknownID(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	_, err := env.registry.StartSession(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDoubleStartRetiresPreviousInstance(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	first := env.dialer.lastCap(env.session.ID)
	require.NotNil(t, first)

	_, err = env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	second := env.dialer.lastCap(env.session.ID)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	assert.GreaterOrEqual(t, first.closed, 1)
	assert.Contains(t, env.dialer.cleaned, env.session.ID)

	stats := env.registry.Stats()
	assert.Equal(t, 1, stats["total"])
}

func TestStopSessionNotRunning(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	err := env.registry.StopSession(context.Background(), env.session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInboundPipeline(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	var created, messages []notify.Event
	env.bus.Subscribe(env.session.ID, notify.EventClientCreated, func(e notify.Event) { created = append(created, e) })
	env.bus.Subscribe(env.session.ID, notify.EventNewMessage, func(e notify.Event) { messages = append(messages, e) })

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	cap := env.dialer.lastCap(env.session.ID)

	cap.emitMessage(inboundText("WA-1", "5511999990000@c.us", "Maria", "hello"))

	client, err := env.store.GetClientByNumber(ctx, env.company.ID, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "Maria", client.Name)
	assert.NotNil(t, client.LastContactAt)

	chat, err := env.store.GetChatByWaID(ctx, env.company.ID, env.session.ID, "5511999990000@c.us")
	require.NoError(t, err)
	require.NotNil(t, chat.ClientID)
	assert.Equal(t, client.ID, *chat.ClientID)
	assert.Equal(t, 1, chat.UnreadCount)

	n, err := env.store.CountMessagesByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, created, 1)
	require.Len(t, messages, 1)

	env.auto.mu.Lock()
	defer env.auto.mu.Unlock()
	require.Len(t, env.auto.calls, 1)
	assert.Equal(t, client.ID, env.auto.calls[0].clientID)
	assert.Equal(t, "hello", env.auto.calls[0].body)
}

func TestInboundMediaDegradesToText(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	cap := env.dialer.lastCap(env.session.ID)

	im := inboundText("WA-IMG", "5511999990000@c.us", "Maria", "")
	im.Type = models.MessageImage
	im.Caption = "look at this"
	im.Media = &InboundMedia{
		MimeType: "image/jpeg",
		Download: func(ctx context.Context) ([]byte, error) { return nil, errors.New("stream expired") },
	}
	cap.emitMessage(im)

	chat, err := env.store.GetChatByWaID(ctx, env.company.ID, env.session.ID, "5511999990000@c.us")
	require.NoError(t, err)
	n, err := env.store.CountMessagesByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAckBeforeMessageIsIgnored(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	cap := env.dialer.lastCap(env.session.ID)

	// A receipt racing ahead of its message must not create anything.
	cap.emitAck(AckEvent{ChatJID: "5511999990000@c.us", WaMessageIDs: []string{"WA-1"}, Ack: models.AckRead})

	cap.emitMessage(inboundText("WA-1", "5511999990000@c.us", "Maria", "hi"))
	cap.emitAck(AckEvent{ChatJID: "5511999990000@c.us", WaMessageIDs: []string{"WA-1"}, Ack: models.AckRead})

	chat, err := env.store.GetChatByWaID(ctx, env.company.ID, env.session.ID, "5511999990000@c.us")
	require.NoError(t, err)
	n, err := env.store.UpdateMessageAck(ctx, env.company.ID, "WA-1", models.AckRead)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count, err := env.store.CountMessagesByChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendTextRequiresConnection(t *testing.T) {
	env := newTestEnv(t, newFakeDialer("pair-code"))
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)

	_, err = env.registry.SendText(ctx, env.session.ID, "5511999990000@c.us", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendTextPersistsOutbound(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	var events []notify.Event
	env.bus.Subscribe(env.session.ID, notify.EventNewMessage, func(e notify.Event) { events = append(events, e) })

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)

	msg, err := env.registry.SendText(ctx, env.session.ID, "5511999990000@c.us", "hi there")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionOut, msg.Direction)
	assert.Equal(t, models.AckPending, msg.Ack)
	require.NotNil(t, msg.Body)
	assert.Equal(t, "hi there", *msg.Body)

	cap := env.dialer.lastCap(env.session.ID)
	require.Len(t, cap.sentTexts, 1)
	assert.Equal(t, "5511999990000@c.us", cap.sentTexts[0].chatJID)

	chat, err := env.store.GetChatByWaID(ctx, env.company.ID, env.session.ID, "5511999990000@c.us")
	require.NoError(t, err)
	assert.Zero(t, chat.UnreadCount)
	assert.NotNil(t, chat.LastMessageAt)

	// API-originated sends announce themselves like inbound traffic does.
	require.Len(t, events, 1)
	data, ok := events[0].Data.(map[string]interface{})
	require.True(t, ok)
	sent, ok := data["message"].(*models.Message)
	require.True(t, ok)
	assert.Equal(t, msg.ID, sent.ID)
}

func TestRemoteLogoutFlagsReauth(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	cap := env.dialer.lastCap(env.session.ID)

	cap.logoutRemote()

	rec, err := env.store.GetSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisconnected, rec.Status)
	assert.True(t, rec.ReauthRequired)
}

func TestDisconnectEventUpdatesStatus(t *testing.T) {
	env := newTestEnv(t, newFakeDialer())
	ctx := context.Background()

	_, err := env.registry.StartSession(ctx, env.session.ID)
	require.NoError(t, err)
	cap := env.dialer.lastCap(env.session.ID)

	cap.dropLink()

	rec, err := env.store.GetSession(ctx, env.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionDisconnected, rec.Status)
	assert.False(t, rec.ReauthRequired)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
	"zapdesk/internal/retention"
	"zapdesk/internal/store"
	"zapdesk/internal/ticket"
	"zapdesk/internal/whatsapp"
)

type noopSender struct{}

func (noopSender) SendText(ctx context.Context, sessionID, chatJID, text string) (*models.Message, error) {
	return &models.Message{}, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open("sqlite", "file:"+t.TempDir()+"/test.db?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	registry := whatsapp.NewRegistry(st, nil, nil, nil, time.Second, 0)
	tickets := ticket.NewRouter(st, noopSender{})
	sweeper := retention.NewSweeper(st, retention.NewNormalizer("55", "11"), registry)

	return NewServer(st, registry, tickets, sweeper, nil, nil, nil, "secret"), st
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/stats/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, "GET", "/stats/sessions", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, "GET", "/stats/sessions", "secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCompanyAndSession(t *testing.T) {
	srv, st := newTestServer(t)

	w := doJSON(t, srv, "POST", "/companies", "secret", map[string]interface{}{
		"name":          "Acme",
		"retentionDays": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var company models.Company
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &company))
	assert.Equal(t, "Acme", company.Name)
	assert.Equal(t, "base64", company.MediaProvider)

	w = doJSON(t, srv, "POST", "/sessions", "secret", map[string]string{
		"companyId": company.ID,
		"name":      "main line",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var sess models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, models.SessionDisconnected, sess.Status)

	stored, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, company.ID, stored.CompanyID)
}

func TestCreateSessionUnknownCompany(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/sessions", "secret", map[string]string{
		"companyId": "nope",
		"name":      "main line",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientMessagesRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/companies/c1/clients/cl1/messages", "secret", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClientMessagesEmptyWindow(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	company := &models.Company{ID: "c1", Name: "Acme", MediaProvider: "base64"}
	require.NoError(t, st.CreateCompany(ctx, company))
	client := &models.Client{ID: "cl1", CompanyID: "c1", Name: "Maria", WhatsAppNumber: "5511999990000", WaUserID: "x"}
	require.NoError(t, st.CreateClient(ctx, client))

	w := doJSON(t, srv, "GET", "/companies/c1/clients/cl1/messages?sessionId=s1", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var window retention.MessageWindow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &window))
	assert.Equal(t, "none", window.Source)
}

func TestReadEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	company := &models.Company{ID: "c1", Name: "Acme", MediaProvider: "base64"}
	require.NoError(t, st.CreateCompany(ctx, company))
	session := &models.Session{ID: "s1", CompanyID: "c1", Name: "main", Status: models.SessionDisconnected}
	require.NoError(t, st.CreateSession(ctx, session))
	client := &models.Client{ID: "cl1", CompanyID: "c1", Name: "Maria", WhatsAppNumber: "5511999990000", WaUserID: "x"}
	require.NoError(t, st.CreateClient(ctx, client))
	chat := &models.Chat{ID: "ch1", CompanyID: "c1", SessionID: "s1", WaChatID: "5511999990000@c.us", Type: models.ChatIndividual}
	require.NoError(t, st.CreateChat(ctx, chat))
	media := &models.Media{ID: "m1", CompanyID: "c1", StorageProvider: "base64", StorageKey: "data:text/plain;base64,aGk=", MimeType: "text/plain", SizeBytes: 2}
	require.NoError(t, st.CreateMedia(ctx, media))

	w := doJSON(t, srv, "GET", "/clients/cl1", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var gotClient models.Client
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gotClient))
	assert.Equal(t, "Maria", gotClient.Name)

	w = doJSON(t, srv, "GET", "/media/m1", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var gotMedia models.Media
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &gotMedia))
	assert.Equal(t, "text/plain", gotMedia.MimeType)

	w = doJSON(t, srv, "GET", "/sessions/s1/chats", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chats []models.Chat
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, "5511999990000@c.us", chats[0].WaChatID)

	w = doJSON(t, srv, "GET", "/clients/nope", "secret", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncClientsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	company := &models.Company{ID: "c1", Name: "Acme", MediaProvider: "base64"}
	require.NoError(t, st.CreateCompany(ctx, company))
	session := &models.Session{ID: "s1", CompanyID: "c1", Name: "main", Status: models.SessionDisconnected}
	require.NoError(t, st.CreateSession(ctx, session))
	chat := &models.Chat{ID: "ch1", CompanyID: "c1", SessionID: "s1", WaChatID: "11999990000@c.us", Type: models.ChatIndividual}
	require.NoError(t, st.CreateChat(ctx, chat))

	w := doJSON(t, srv, "POST", "/sessions/s1/sync-clients", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result retention.ClientSync
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.NewClients)
	assert.Zero(t, result.ExistingClients)

	w = doJSON(t, srv, "POST", "/sessions/nope/sync-clients", "secret", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestS3EndpointsUnavailableWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "GET", "/companies/c1/s3/health", "secret", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, srv, "DELETE", "/companies/c1/media", "secret", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, "POST", "/maintenance/cache-cleanup", "secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "POST", "/maintenance/retention-sweep", "secret", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTicketNotFoundMapsTo404(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "POST", "/tickets/nope/assume", "secret", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeliveryStatsUnavailableWithoutManager(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, "GET", "/stats/delivery", "secret", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/media"
	"zapdesk/internal/notify"
	"zapdesk/internal/retention"
	"zapdesk/internal/store"
	"zapdesk/internal/ticket"
	"zapdesk/internal/whatsapp"
)

// Server exposes the core over a thin JSON API protected by a static
// admin token.
type Server struct {
	router   *mux.Router
	store    *store.Store
	registry *whatsapp.Registry
	tickets  *ticket.Router
	sweeper  *retention.Sweeper
	jobs     *retention.Jobs
	delivery *notify.DeliveryManager
	s3       *media.S3Storage
	token    string
}

// NewServer wires the API; jobs, delivery and s3 may be nil, which
// disables their endpoints.
func NewServer(st *store.Store, registry *whatsapp.Registry, tickets *ticket.Router, sweeper *retention.Sweeper, jobs *retention.Jobs, delivery *notify.DeliveryManager, s3 *media.S3Storage, token string) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		store:    st,
		registry: registry,
		tickets:  tickets,
		sweeper:  sweeper,
		jobs:     jobs,
		delivery: delivery,
		s3:       s3,
		token:    token,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	chain := alice.New(s.logRequest, s.authRequired)

	r := s.router
	r.Handle("/health", alice.New(s.logRequest).ThenFunc(s.health)).Methods("GET")

	r.Handle("/sessions", chain.Then(s.createSession())).Methods("POST")
	r.Handle("/sessions/{id}/start", chain.Then(s.startSession())).Methods("POST")
	r.Handle("/sessions/{id}/stop", chain.Then(s.stopSession())).Methods("POST")
	r.Handle("/sessions/{id}/logout", chain.Then(s.logoutSession())).Methods("POST")
	r.Handle("/sessions/{id}/status", chain.Then(s.sessionStatus())).Methods("GET")
	r.Handle("/sessions/{id}/qr", chain.Then(s.sessionQR())).Methods("GET")
	r.Handle("/sessions/{id}/messages", chain.Then(s.sendMessage())).Methods("POST")
	r.Handle("/sessions/{id}/files", chain.Then(s.sendFile())).Methods("POST")
	r.Handle("/sessions/{id}/chats", chain.Then(s.listChats())).Methods("GET")
	r.Handle("/sessions/{id}/sync-clients", chain.Then(s.syncClients())).Methods("POST")

	r.Handle("/tickets", chain.Then(s.listTickets())).Methods("GET")
	r.Handle("/tickets/{id}/assume", chain.Then(s.assumeTicket())).Methods("POST")
	r.Handle("/tickets/{id}/finish", chain.Then(s.finishTicket())).Methods("POST")
	r.Handle("/tickets/{id}/cancel", chain.Then(s.cancelTicket())).Methods("POST")
	r.Handle("/tickets/{id}/transfer", chain.Then(s.transferTicket())).Methods("POST")
	r.Handle("/tickets/{id}/messages", chain.Then(s.sendTicketMessage())).Methods("POST")

	r.Handle("/companies", chain.Then(s.createCompany())).Methods("POST")
	r.Handle("/companies/{id}/sessions", chain.Then(s.listSessions())).Methods("GET")
	r.Handle("/companies/{companyId}/clients/{clientId}/messages", chain.Then(s.clientMessages())).Methods("GET")
	r.Handle("/companies/{id}/s3/health", chain.Then(s.s3Health())).Methods("GET")
	r.Handle("/companies/{id}/media", chain.Then(s.purgeCompanyMedia())).Methods("DELETE")

	r.Handle("/queues", chain.Then(s.createQueue())).Methods("POST")
	r.Handle("/queues/{id}/agents", chain.Then(s.addQueueAgent())).Methods("POST")
	r.Handle("/users", chain.Then(s.createUser())).Methods("POST")
	r.Handle("/clients/{id}", chain.Then(s.getClient())).Methods("GET")
	r.Handle("/media/{id}", chain.Then(s.getMedia())).Methods("GET")

	r.Handle("/maintenance/cache-cleanup", chain.Then(s.runCacheCleanup())).Methods("POST")
	r.Handle("/maintenance/retention-sweep", chain.Then(s.runRetentionSweep())).Methods("POST")

	r.Handle("/stats/sessions", chain.Then(s.sessionStats())).Methods("GET")
	r.Handle("/stats/delivery", chain.Then(s.deliveryStats())).Methods("GET")
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) authRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.Header.Get("token") != s.token {
			s.respondError(w, http.StatusUnauthorized, errors.New("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, whatsapp.ErrSessionNotFound),
		errors.Is(err, ticket.ErrTicketNotFound),
		errors.Is(err, ticket.ErrQueueNotFound),
		store.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, whatsapp.ErrNotConnected),
		errors.Is(err, ticket.ErrInvalidState),
		errors.Is(err, ticket.ErrAlreadyFinished):
		s.respondError(w, http.StatusConflict, err)
	case errors.Is(err, ticket.ErrAlreadyAssigned):
		s.respondError(w, http.StatusConflict, err)
	default:
		log.Error().Err(err).Msg("request failed")
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
		return false
	}
	return true
}

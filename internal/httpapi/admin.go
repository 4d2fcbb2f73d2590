package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"zapdesk/internal/models"
)

func (s *Server) createCompany() http.HandlerFunc {
	type request struct {
		Name             string `json:"name"`
		RetentionDays    int    `json:"retentionDays"`
		CacheFetchedDays int    `json:"cacheFetchedDays"`
		MediaProvider    string `json:"mediaProvider"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.Name == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("name is required"))
			return
		}
		if req.MediaProvider == "" {
			req.MediaProvider = "base64"
		}
		c := &models.Company{
			ID:               uuid.NewString(),
			Name:             req.Name,
			RetentionDays:    req.RetentionDays,
			CacheFetchedDays: req.CacheFetchedDays,
			MediaProvider:    req.MediaProvider,
		}
		if err := s.store.CreateCompany(r.Context(), c); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, c)
	}
}

func (s *Server) createQueue() http.HandlerFunc {
	type request struct {
		CompanyID       string  `json:"companyId"`
		Name            string  `json:"name"`
		GreetingMessage *string `json:"greetingMessage"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.CompanyID == "" || req.Name == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("companyId and name are required"))
			return
		}
		q := &models.Queue{
			ID:              uuid.NewString(),
			CompanyID:       req.CompanyID,
			Name:            req.Name,
			GreetingMessage: req.GreetingMessage,
			IsActive:        true,
		}
		if err := s.store.CreateQueue(r.Context(), q); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, q)
	}
}

func (s *Server) addQueueAgent() http.HandlerFunc {
	type request struct {
		UserID string `json:"userId"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.UserID == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("userId is required"))
			return
		}
		if err := s.store.AddUserToQueue(r.Context(), req.UserID, mux.Vars(r)["id"]); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, map[string]string{"status": "added"})
	}
}

func (s *Server) createUser() http.HandlerFunc {
	type request struct {
		CompanyID string `json:"companyId"`
		Name      string `json:"name"`
		Email     string `json:"email"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.CompanyID == "" || req.Name == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("companyId and name are required"))
			return
		}
		u := &models.User{
			ID:        uuid.NewString(),
			CompanyID: req.CompanyID,
			Name:      req.Name,
			Email:     req.Email,
			IsActive:  true,
		}
		if err := s.store.CreateUser(r.Context(), u); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, u)
	}
}

// clientMessages serves the retention-aware history window.
func (s *Server) clientMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		q := r.URL.Query()

		sessionID := q.Get("sessionId")
		if sessionID == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("sessionId is required"))
			return
		}

		end := time.Now()
		start := end.AddDate(0, 0, -30)
		if raw := q.Get("start"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, errors.New("start must be RFC3339"))
				return
			}
			start = t
		}
		if raw := q.Get("end"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, errors.New("end must be RFC3339"))
				return
			}
			end = t
		}

		limit := 50
		if raw := q.Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		window, err := s.sweeper.GetMessagesWithRetention(r.Context(), vars["companyId"], vars["clientId"], sessionID, start, end, limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, window)
	}
}

func (s *Server) getClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.store.GetClient(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, c)
	}
}

func (s *Server) getMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := s.store.GetMedia(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, m)
	}
}

func (s *Server) listChats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := s.store.ListChatsBySession(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, chats)
	}
}

func (s *Server) syncClients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.sweeper.SyncClientsFromChats(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, result)
	}
}

func (s *Server) runCacheCleanup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.sweeper.CleanExpiredCache(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]int64{"removed": n})
	}
}

func (s *Server) runRetentionSweep() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.sweeper.CleanOldMessages(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]int64{"removed": n})
	}
}

func (s *Server) s3Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.s3 == nil {
			s.respondError(w, http.StatusServiceUnavailable, errors.New("S3 storage not configured"))
			return
		}
		if err := s.s3.TestConnection(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.respondError(w, http.StatusBadGateway, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) purgeCompanyMedia() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.s3 == nil {
			s.respondError(w, http.StatusServiceUnavailable, errors.New("S3 storage not configured"))
			return
		}
		companyID := mux.Vars(r)["id"]
		if _, err := s.store.GetCompany(r.Context(), companyID); err != nil {
			s.fail(w, err)
			return
		}
		if err := s.s3.DeleteAllCompanyObjects(r.Context(), companyID); err != nil {
			s.respondError(w, http.StatusBadGateway, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "purged"})
	}
}

func (s *Server) sessionStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, s.registry.Stats())
	}
}

func (s *Server) deliveryStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.delivery == nil {
			s.respondError(w, http.StatusServiceUnavailable, errors.New("delivery manager not initialized"))
			return
		}
		s.respond(w, http.StatusOK, map[string]interface{}{
			"status":        "running",
			"pendingEvents": s.delivery.PendingCount(),
		})
	}
}

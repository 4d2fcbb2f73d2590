package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/vincent-petithory/dataurl"

	"zapdesk/internal/models"
	"zapdesk/internal/whatsapp"
)

func (s *Server) createSession() http.HandlerFunc {
	type request struct {
		CompanyID string `json:"companyId"`
		Name      string `json:"name"`
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
		if _, err := s.store.GetCompany(r.Context(), req.CompanyID); err != nil {
			s.fail(w, err)
			return
		}

		sess := &models.Session{
			ID:        uuid.NewString(),
			CompanyID: req.CompanyID,
			Name:      req.Name,
			Status:    models.SessionDisconnected,
		}
		if err := s.store.CreateSession(r.Context(), sess); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, sess)
	}
}

func (s *Server) listSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.store.ListSessionsByCompany(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, sessions)
	}
}

func (s *Server) startSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		qr, err := s.registry.StartSession(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		status, _ := s.registry.Status(r.Context(), id)
		s.respond(w, http.StatusOK, map[string]interface{}{
			"qrCode": qr,
			"status": status.String(),
		})
	}
}

func (s *Server) stopSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.registry.StopSession(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": models.SessionDisconnected.String()})
	}
}

func (s *Server) logoutSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		sess := s.registry.Get(id)
		if sess == nil {
			s.fail(w, whatsapp.ErrSessionNotFound)
			return
		}
		if err := sess.Logout(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": models.SessionDisconnected.String()})
	}
}

func (s *Server) sessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := s.registry.Status(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": status.String()})
	}
}

func (s *Server) sessionQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qr := s.registry.QR(mux.Vars(r)["id"])
		if qr == "" {
			s.respondError(w, http.StatusNotFound, errors.New("no QR code available"))
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"qrCode": qr})
	}
}

func (s *Server) sendMessage() http.HandlerFunc {
	type request struct {
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.ChatID == "" || req.Text == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("chatId and text are required"))
			return
		}
		msg, err := s.registry.SendText(r.Context(), mux.Vars(r)["id"], req.ChatID, req.Text)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, msg)
	}
}

func (s *Server) sendFile() http.HandlerFunc {
	type request struct {
		ChatID   string `json:"chatId"`
		DataURL  string `json:"dataUrl"`
		FileName string `json:"fileName"`
		Caption  string `json:"caption"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.ChatID == "" || req.DataURL == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("chatId and dataUrl are required"))
			return
		}

		du, err := dataurl.DecodeString(req.DataURL)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("dataUrl is not a valid data URL"))
			return
		}

		msg, err := s.registry.SendFile(r.Context(), mux.Vars(r)["id"], req.ChatID, du.Data, du.ContentType(), req.FileName, req.Caption)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, msg)
	}
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"zapdesk/internal/models"
)

func (s *Server) listTickets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("userId is required"))
			return
		}

		var status *models.TicketStatus
		if raw := r.URL.Query().Get("status"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, errors.New("status must be numeric"))
				return
			}
			st := models.TicketStatus(n)
			status = &st
		}

		tickets, err := s.tickets.ListForAgent(r.Context(), userID, status)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, tickets)
	}
}

func (s *Server) assumeTicket() http.HandlerFunc {
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
		if err := s.tickets.Assume(r.Context(), mux.Vars(r)["id"], req.UserID); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "assigned"})
	}
}

func (s *Server) finishTicket() http.HandlerFunc {
	type request struct {
		Resolution *string `json:"resolution"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if err := s.tickets.Finish(r.Context(), mux.Vars(r)["id"], req.Resolution); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "finished"})
	}
}

func (s *Server) cancelTicket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.tickets.Cancel(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) transferTicket() http.HandlerFunc {
	type request struct {
		QueueID string `json:"queueId"`
		UserID  string `json:"userId"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.QueueID == "" || req.UserID == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("queueId and userId are required"))
			return
		}
		if err := s.tickets.Transfer(r.Context(), mux.Vars(r)["id"], req.QueueID, req.UserID); err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]string{"status": "transferred"})
	}
}

func (s *Server) sendTicketMessage() http.HandlerFunc {
	type request struct {
		UserID string `json:"userId"`
		Text   string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !s.decode(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Text == "" {
			s.respondError(w, http.StatusBadRequest, errors.New("userId and text are required"))
			return
		}
		msg, err := s.tickets.SendAgentMessage(r.Context(), mux.Vars(r)["id"], req.UserID, req.Text)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusCreated, msg)
	}
}

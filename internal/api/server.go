// Package api exposes the mailbox service over a small JSON HTTP API
// with cookie sessions. Error kinds map onto status codes; the core's
// semantics live in the mail service, not here.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/jonc1987/fastmail/internal/mail"
	"github.com/jonc1987/fastmail/pkg/types"
)

// Server is the HTTP boundary around the mailbox service.
type Server struct {
	service  *mail.Service
	sessions *sessionStore
	logger   *logrus.Logger
}

// NewServer creates the HTTP server for the given service.
func NewServer(service *mail.Service, logger *logrus.Logger) *Server {
	return &Server{
		service:  service,
		sessions: newSessionStore(),
		logger:   logger,
	}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/users", s.handleEnsureUser)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.HandleFunc("GET /api/mailboxes", s.authed(s.handleListMailboxes))
	mux.HandleFunc("GET /api/mailboxes/{name}/messages", s.authed(s.handleListMessages))
	mux.HandleFunc("GET /api/messages/{id}", s.authed(s.handleGetMessage))
	mux.HandleFunc("POST /api/messages/{id}/read", s.authed(s.handleMarkRead))
	mux.HandleFunc("POST /api/messages", s.authed(s.handleSendMessage))
	mux.HandleFunc("POST /api/drafts", s.authed(s.handleCreateDraft))
	mux.HandleFunc("POST /api/drafts/{id}/send", s.authed(s.handleSendDraft))
	mux.HandleFunc("GET /api/search", s.authed(s.handleSearch))

	return mux
}

// authed wraps a handler with session resolution; a request without a
// resolvable user id never reaches the core.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		userID, ok := s.sessions.lookup(cookie.Value)
		if !ok {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string              `json:"email"`
		Password string              `json:"password"`
		Name     string              `json:"name"`
		Remote   *types.RemoteConfig `json:"remote,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.service.EnsureUser(mail.EnsureUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Remote:   req.Remote,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.service.Authenticate(req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if user == nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	setSessionCookie(w, s.sessions.create(user.ID))
	s.writeJSON(w, http.StatusOK, user.Info())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.destroy(cookie.Value)
	}
	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMailboxes(w http.ResponseWriter, r *http.Request, userID string) {
	mailboxes, err := s.service.ListMailboxes(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mailboxes)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, userID string) {
	messages, err := s.service.ListMessages(userID, r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request, userID string) {
	msg, err := s.service.GetMessage(userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, userID string) {
	msg, err := s.service.MarkRead(userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	msg, err := s.service.SendMessage(userID, mail.SendInput{To: req.To, Subject: req.Subject, Body: req.Body})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	draft, err := s.service.CreateDraft(userID, mail.DraftInput{To: req.To, Subject: req.Subject, Body: req.Body})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleSendDraft(w http.ResponseWriter, r *http.Request, userID string) {
	msg, err := s.service.SendDraft(userID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.service.SearchMessages(userID, query, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []types.MessageSummary{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// writeError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case types.IsValidation(err):
		status = http.StatusBadRequest
	case types.IsNotFound(err):
		status = http.StatusNotFound
	case types.IsConflict(err):
		status = http.StatusConflict
	case types.IsRemote(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		s.logger.WithError(err).Error("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"dsu/config"
)

const (
	sessionName    = "dsu_session"
	sessionUserKey = "operator"
)

// sessionStore gates the mutating API routes behind a cookie session,
// grounded on the teacher's www/auth.go CookieStore wrapper — adapted here
// to a single configured operator instead of a multi-user table, since the
// core has no user store of its own.
type sessionStore struct {
	store    *sessions.CookieStore
	operator string
	hash     string
}

func newSessionStore(cfg string) *sessionStore {
	var key []byte
	if cfg != "" {
		key, _ = base64.StdEncoding.DecodeString(cfg)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}

	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path: "/", MaxAge: 86400, HttpOnly: true, SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{store: store}
}

func newSessionStoreFromConfig(cfg *config.APIConfig) *sessionStore {
	s := newSessionStore(cfg.SessionKey)
	s.operator = cfg.Operator
	s.hash = cfg.PasswordHash
	return s
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	session, _ := s.store.Get(r, sessionName)
	return session
}

func (s *sessionStore) isAuthenticated(r *http.Request) bool {
	session := s.get(r)
	user, ok := session.Values[sessionUserKey].(string)
	return ok && user != ""
}

func (s *sessionStore) login(w http.ResponseWriter, r *http.Request, operator, password string) bool {
	if operator != s.operator || bcrypt.CompareHashAndPassword([]byte(s.hash), []byte(password)) != nil {
		return false
	}
	session := s.get(r)
	session.Values[sessionUserKey] = operator
	session.Save(r, w)
	return true
}

func (s *sessionStore) logout(w http.ResponseWriter, r *http.Request) {
	session := s.get(r)
	delete(session.Values, sessionUserKey)
	session.Options.MaxAge = -1
	session.Save(r, w)
}

// requireAuth rejects requests with no valid session when auth is enabled;
// it is a pass-through middleware when the server has no sessionStore.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.isAuthenticated(r) {
			s.writeErr(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, http.StatusBadRequest, "decode body: %v", err)
		return
	}
	if !s.auth.login(w, r, req.Operator, req.Password) {
		s.writeErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.logout(w, r)
	s.writeJSON(w, map[string]bool{"ok": true})
}

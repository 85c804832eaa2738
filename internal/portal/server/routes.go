package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/activity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/identity"
	"github.com/macalisterfamily11-pixel/bnr-bank/internal/portal/session"
	"go.uber.org/zap"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/v1/challenge", s.handleChallenge)
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/logout", s.handleLogout)
	mux.HandleFunc("GET /api/v1/session", s.handleSession)
	mux.HandleFunc("POST /api/v1/activity", s.handleActivity)
	mux.HandleFunc("POST /api/v1/password", s.handleChangePassword)
	mux.HandleFunc("POST /api/v1/identities/{username}/reset-password", s.handleResetPassword)
	mux.HandleFunc("GET /api/v1/activity-log", s.handleActivityLog)
	mux.HandleFunc("GET /api/v1/authz", s.handleAuthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version, "commit": Commit, "date": Date,
	})
}

// ── Session API ──────────────────────────────────────────────

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Institution string `json:"institution"`
	Challenge   string `json:"challenge"`
}

type sessionResponse struct {
	State          session.State   `json:"state"`
	Authenticated  bool            `json:"authenticated"`
	Session        *session.Record `json:"session,omitempty"`
	FailedAttempts int             `json:"failed_attempts"`
}

func (s *Server) sessionView() sessionResponse {
	cur := s.sessions.Current()
	return sessionResponse{
		State:          s.sessions.State(),
		Authenticated:  cur != nil,
		Session:        cur,
		FailedAttempts: s.sessions.FailedAttempts(),
	}
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.sessions.IssueChallenge()
	if err != nil {
		s.logger.Error("issue challenge", zap.Error(err))
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"question": c.Question})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	_, err := s.sessions.Login(r.Context(), session.Credentials{
		Username:          strings.TrimSpace(req.Username),
		Secret:            req.Password,
		Institution:       req.Institution,
		ChallengeResponse: strings.TrimSpace(req.Challenge),
		Origin:            clientIP(r),
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context()); err != nil {
		s.logger.Warn("logout", zap.Error(err))
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind session.ActivityKind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := s.sessions.Touch(req.Kind); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Password management ──────────────────────────────────────

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := s.sessions.ChangeSecret(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	temp, err := s.sessions.ResetSecret(r.Context(), username)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username":           username,
		"temporary_password": temp,
	})
}

// ── Activity log & authorization ─────────────────────────────

func (s *Server) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.IsAuthenticated() {
		writeSessionError(w, session.ErrNotAuthenticated)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries := s.sessions.ActivityLog(limit)
	if entries == nil {
		entries = []activity.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   s.activity.Count(),
	})
}

func (s *Server) handleAuthz(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := map[string]any{"authenticated": s.sessions.IsAuthenticated()}
	if role := q.Get("role"); role != "" {
		resp["role"] = s.sessions.HasRole(identity.Role(role))
	}
	if perm := q.Get("permission"); perm != "" {
		resp["permission"] = s.sessions.HasPermission(perm)
	}
	writeJSON(w, http.StatusOK, resp)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

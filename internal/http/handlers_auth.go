package http

import (
	"context"
	"net/http"
	"time"

	"tally/internal/services"
	"tally/internal/store"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string         `json:"token"`
	Identity store.Identity `json:"identity"`
	Profile  *store.Profile `json:"profile,omitempty"`
}

type signInFunc func(ctx context.Context, session *services.Session) (store.Identity, error)

// authenticate runs signIn on the caller's session, or on a fresh one when the
// request carries no valid token. A fresh session that fails to sign in is dropped.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, op string, status int, signIn signInFunc) {
	token := bearerToken(r)
	session, ok := s.sessions.Lookup(token)
	fresh := !ok
	if fresh {
		var err error
		token, session, err = s.sessions.Create(r.Context())
		if err != nil {
			s.writeError(w, r, op, err)
			return
		}
	}

	id, err := signIn(r.Context(), session)
	if err != nil {
		if fresh {
			s.sessions.Remove(token)
		}
		s.writeError(w, r, op, err)
		return
	}

	resp := authResponse{Token: token, Identity: id}
	if p, ok := session.Profile(); ok {
		resp.Profile = &p
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "sign_up", err)
		return
	}
	s.authenticate(w, r, "sign_up", http.StatusCreated, func(ctx context.Context, session *services.Session) (store.Identity, error) {
		return session.SignUp(ctx, in.Email, in.Password)
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, "sign_in", err)
		return
	}
	s.authenticate(w, r, "sign_in", http.StatusOK, func(ctx context.Context, session *services.Session) (store.Identity, error) {
		return session.SignIn(ctx, in.Email, in.Password)
	})
}

func (s *Server) handleFederated(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, "sign_in_federated", http.StatusOK, func(ctx context.Context, session *services.Session) (store.Identity, error) {
		return session.SignInWithFederatedProvider(ctx)
	})
}

// handleSignOut signs the session out and invalidates its token.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ts := sessionFrom(r)
	if err := ts.session.SignOut(r.Context()); err != nil {
		s.writeError(w, r, "sign_out", err)
		return
	}
	s.sessions.Remove(ts.token)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Identity *store.Identity `json:"identity"`
	Profile  *store.Profile  `json:"profile,omitempty"`
	State    services.State  `json:"state"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r).session
	resp := meResponse{Identity: session.Current(), State: session.Shell().State()}
	if p, ok := session.Profile(); ok {
		resp.Profile = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Sessions  int    `json:"sessions"`
	Requests  int64  `json:"requests"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		Uptime:    now.Sub(s.started).Round(time.Second).String(),
		Sessions:  s.sessions.Len(),
		Requests:  s.tracer.GetMetrics().TotalRequests,
	})
}

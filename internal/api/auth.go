package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

// Login handles GET /api/auth/login.
//
//	@Summary		Start the GitHub OAuth login
//	@Tags			auth
//	@Success		302	"Redirect to GitHub"
//	@Failure		404	{object}	errResponse
//	@Router			/auth/login [get]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeJSON(w, http.StatusNotFound, errorBody("oauth login is not configured"))
		return
	}
	auth.BeginLogin(w, r, h.OAuth, h.SecureCookies)
}

// Callback handles GET /api/auth/callback.
//
//	@Summary		Complete the GitHub OAuth login
//	@Tags			auth
//	@Param			code	query	string	true	"Authorization code"
//	@Param			state	query	string	true	"State issued by /auth/login"
//	@Success		302		"Redirect to / or to /check when setup is required"
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Router			/auth/callback [get]
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeJSON(w, http.StatusNotFound, errorBody("oauth login is not configured"))
		return
	}
	token, err := auth.CompleteLogin(w, r, h.OAuth)
	if err != nil {
		writeError(w, "oauth callback", err)
		return
	}
	ws, err := h.signIn(r.Context(), w, token)
	if err != nil {
		writeError(w, "oauth callback", err)
		return
	}
	target := "/"
	if ready, err := ws.Ready(r.Context()); err != nil || !ready {
		target = "/check"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// PATLogin handles POST /api/auth/pat.
//
//	@Summary		Sign in with a personal access token
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PATRequest	true	"Token"
//	@Success		200		{object}	models.User
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		403		{object}	errResponse	"Signed in, but the repositories are missing"
//	@Router			/auth/pat [post]
func (h *Handler) PATLogin(w http.ResponseWriter, r *http.Request) {
	var req PATRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ws, err := h.signIn(r.Context(), w, req.Token)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid GitHub token"))
			return
		}
		writeError(w, "pat login", err)
		return
	}
	ready, err := ws.Ready(r.Context())
	if err != nil {
		writeError(w, "pat login", err)
		return
	}
	if !ready {
		writeJSON(w, http.StatusForbidden, errorBody("missing repo access"))
		return
	}
	writeJSON(w, http.StatusOK, ws.User())
}

// signIn resolves the profile of token, issues a session and opens the
// workspace.
func (h *Handler) signIn(ctx context.Context, w http.ResponseWriter, token string) (*workspace.Workspace, error) {
	user, err := h.Factory.Profile(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := h.Sessions.Issue(ctx, w, token, *user); err != nil {
		return nil, err
	}
	slog.Info("signed in", slog.String("login", user.Login))
	return h.Factory.Open(ctx, token, user)
}

// Logout handles GET and POST /api/auth/logout.
//
//	@Summary		Sign out
//	@Tags			auth
//	@Success		302	"GET redirects to /"
//	@Success		204	"POST answers without content"
//	@Router			/auth/logout [get]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := auth.FromContext(r.Context()); ok {
		h.Factory.Forget(sess.Token)
	}
	if err := h.Sessions.Destroy(w, r); err != nil {
		slog.Warn("session revoke failed", slog.String("error", err.Error()))
	}
	if r.Method == http.MethodGet {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// User handles GET /api/user.
//
//	@Summary		Get the signed-in user
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	models.User
//	@Success		304	"Not modified"
//	@Failure		401	{object}	errResponse
//	@Router			/user [get]
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	writeCached(w, r, workspaceFrom(r.Context()).User())
}

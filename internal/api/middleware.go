// Package api implements the LurkHub REST API using chi.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/bootstrap"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

type workspaceKey struct{}

func workspaceFrom(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*workspace.Workspace)
	return ws
}

// WorkspaceMiddleware opens the workspace of the session attached by
// auth.Sessions.Middleware. Requests without a session get 401.
func WorkspaceMiddleware(factory *workspace.Factory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := auth.FromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("no valid session found"))
				return
			}
			user := sess.User()
			ws, err := factory.Open(r.Context(), sess.Token, &user)
			if err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					factory.Forget(sess.Token)
				}
				writeError(w, "open workspace", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey{}, ws)))
		})
	}
}

// RequireSetup blocks workspace routes until both repositories are usable.
func RequireSetup() func(http.Handler) http.Handler {
	return bootstrap.Gate(func(r *http.Request) (bool, error) {
		ws := workspaceFrom(r.Context())
		if ws == nil {
			return false, apperr.ErrUnauthorized
		}
		return ws.Ready(r.Context())
	})
}

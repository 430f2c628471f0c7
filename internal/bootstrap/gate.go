package bootstrap

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// ReadyFunc reports whether the requester's repositories are set up.
type ReadyFunc func(r *http.Request) (bool, error)

// Gate blocks requests until ready reports true. Browser navigations are
// redirected to /setup; API calls get 403 {"error": "setup required"}.
func Gate(ready ReadyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := ready(r)
			if err != nil {
				slog.Error("setup check failed", slog.String("error", err.Error()))
				writeError(w, http.StatusBadGateway, "could not check repository setup")
				return
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
				http.Redirect(w, r, "/setup", http.StatusSeeOther)
				return
			}
			writeError(w, http.StatusForbidden, "setup required")
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Login         http.HandlerFunc
	SyncTrigger   http.HandlerFunc
	SyncStatus    http.HandlerFunc
	SyncEvents    http.HandlerFunc
	Operations    http.HandlerFunc
	Health        http.HandlerFunc
	AuthProtected func(http.Handler) http.Handler
}

// NewRouter registers endpoints. Sync and operations routes sit behind the
// auth middleware; login, health and the ws feed do not.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	protect := routes.AuthProtected
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	if routes.Login != nil {
		mux.Handle("/auth/login", method(http.MethodPost, routes.Login))
	}
	if routes.SyncTrigger != nil {
		mux.Handle("/sync/transactions", protect(method(http.MethodPost, routes.SyncTrigger)))
	}
	if routes.SyncStatus != nil {
		mux.Handle("/sync/status", protect(method(http.MethodGet, routes.SyncStatus)))
	}
	if routes.SyncEvents != nil {
		mux.Handle("/sync/events", method(http.MethodGet, routes.SyncEvents))
	}
	if routes.Operations != nil {
		mux.Handle("/operations", protect(method(http.MethodGet, routes.Operations)))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

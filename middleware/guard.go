package middleware

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

// SessionEngine is the read side of [goSession.Engine] used by the guards.
type SessionEngine interface {
	CurrentSession() goSession.Session
	Can(privilege string) bool
	IsModuleAccessible(id int) bool
	IsRouteAccessible(path string) bool
}

var _ SessionEngine = (*goSession.Engine)(nil)

// RequireSession rejects requests with 401 unless the engine holds an
// active session. The session copy is stored in the request context.
func RequireSession(engine SessionEngine) func(http.Handler) http.Handler {
	return guard(engine, nil)
}

// RequirePrivilege additionally requires privilege, answering 403 otherwise.
func RequirePrivilege(engine SessionEngine, privilege string) func(http.Handler) http.Handler {
	return guard(engine, func(_ *http.Request) bool {
		return engine.Can(privilege)
	})
}

// RequireModule additionally requires access to module id.
func RequireModule(engine SessionEngine, id int) func(http.Handler) http.Handler {
	return guard(engine, func(_ *http.Request) bool {
		return engine.IsModuleAccessible(id)
	})
}

// RequireRoute checks the request path against the accessible route
// patterns.
func RequireRoute(engine SessionEngine) func(http.Handler) http.Handler {
	return guard(engine, func(r *http.Request) bool {
		return engine.IsRouteAccessible(r.URL.Path)
	})
}

func guard(engine SessionEngine, allow func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			session := engine.CurrentSession()
			if !session.State.Active() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if allow != nil && !allow(r) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(goSession.WithSession(r.Context(), session)))
		})
	}
}

package goSession

// LifecycleState is the position of the session in its lifecycle.
type LifecycleState uint8

const (
	// StateUnauthenticated has no session.
	StateUnauthenticated LifecycleState = iota
	// StateAuthenticating is a login in progress.
	StateAuthenticating
	// StateAuthenticated holds a usable session.
	StateAuthenticated
	// StateRefreshing holds a usable session while the access token is renewed.
	StateRefreshing
	// StateLoggingOut is tearing the session down.
	StateLoggingOut
)

// String returns the lowercase state name.
func (s LifecycleState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggingOut:
		return "logging_out"
	default:
		return "unknown"
	}
}

// Active reports whether the state carries a usable session.
func (s LifecycleState) Active() bool {
	return s == StateAuthenticated || s == StateRefreshing
}

var transitions = map[LifecycleState][]LifecycleState{
	StateUnauthenticated: {StateAuthenticating, StateLoggingOut},
	StateAuthenticating:  {StateAuthenticated, StateUnauthenticated, StateLoggingOut},
	StateAuthenticated:   {StateRefreshing, StateLoggingOut},
	StateRefreshing:      {StateAuthenticated, StateLoggingOut},
	StateLoggingOut:      {StateUnauthenticated},
}

func canTransition(from, to LifecycleState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

package session

// State of the session state machine.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Identity is the signed-in user as returned by the identity query.
type Identity struct {
	ID    string
	Email string
}

// Auth is the view of the session handed to dependents. It carries the
// reset capability but no access to the environment or its store.
type Auth struct {
	State         State
	Authenticated bool
	Identity      *Identity
	// EnvironmentID identifies the environment the snapshot was taken from.
	EnvironmentID string

	reset func()
}

// ResetEnvironment discards the session's environment and starts a fresh,
// unauthenticated one.
func (a Auth) ResetEnvironment() {
	if a.reset != nil {
		a.reset()
	}
}

package events

// SessionTransition is emitted on every session state change.
type SessionTransition struct {
	From          string
	To            string
	EnvironmentID string
}

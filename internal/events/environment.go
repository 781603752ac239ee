package events

import "time"

// Source tells where an execute result came from.
type Source string

const (
	SourceNetwork      Source = "network"
	SourceStore        Source = "store"
	SourceDeduplicated Source = "deduplicated"
)

// ExecuteStart is emitted when an environment begins executing a descriptor.
type ExecuteStart struct {
	EnvironmentID string
	OperationName string
	OperationType string
}

// ExecuteFinish is emitted when an execute call returns to its caller.
type ExecuteFinish struct {
	EnvironmentID string
	OperationName string
	OperationType string
	Source        Source
	Errors        int
	Err           error
	Duration      time.Duration
}

// EnvironmentDisposed is emitted once when an environment is discarded.
type EnvironmentDisposed struct {
	EnvironmentID string
	Records       int
}

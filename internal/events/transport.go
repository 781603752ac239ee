package events

import "time"

// TransportStart is emitted before an HTTP request is sent to the GraphQL endpoint.
type TransportStart struct {
	Endpoint      string
	OperationName string
}

// TransportFinish is emitted after the HTTP exchange completes.
// Status is 0 when no response was received.
type TransportFinish struct {
	Endpoint      string
	OperationName string
	Status        int
	GraphQLErrors int
	Err           error
	Duration      time.Duration
}

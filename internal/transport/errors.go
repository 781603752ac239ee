package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEndpoint indicates the transport was built without an endpoint URL.
	ErrNoEndpoint = errors.New("transport: endpoint not configured")

	// ErrResponseTooLarge indicates the response body exceeded MaxResponseBytes.
	ErrResponseTooLarge = errors.New("transport: response body too large")
)

// TransportError reports a failed exchange: the server was unreachable,
// answered with a non-2xx status, or returned a body that is not a GraphQL
// JSON response. StatusCode is 0 when no response was received.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Location is a position in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError is one entry of a response's "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// GraphQLErrors is returned by Response.Err when the server reported errors.
type GraphQLErrors []GraphQLError

func (es GraphQLErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTransport implements Sender with a handler function, recording every
// request. Hold makes subsequent calls block until released, which lets
// tests keep requests in flight.
type MockTransport struct {
	mu      sync.Mutex
	handler func(context.Context, Request) (*Response, error)
	calls   []Request
	gate    chan struct{}
}

var _ Sender = (*MockTransport)(nil)

func NewMockTransport(h func(context.Context, Request) (*Response, error)) *MockTransport {
	return &MockTransport{handler: h}
}

// NewMockTransportJSON answers successive calls with the given response
// bodies. Calls past the last body fail.
func NewMockTransportJSON(bodies ...string) *MockTransport {
	var mu sync.Mutex
	idx := 0
	return NewMockTransport(func(context.Context, Request) (*Response, error) {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(bodies) {
			return nil, fmt.Errorf("mock transport: no more responses")
		}
		body := bodies[idx]
		idx++
		return MustResponse(body), nil
	})
}

// MustResponse decodes a response body, panicking on invalid JSON.
func MustResponse(body string) *Response {
	var r Response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		panic(fmt.Sprintf("mock transport: bad response body %q: %v", body, err))
	}
	return &r
}

// Hold blocks calls made from now on until release is called.
func (m *MockTransport) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockTransport) Send(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &TransportError{Endpoint: "mock", Err: ctx.Err()}
		}
	}
	return m.handler(ctx, req)
}

// Calls returns a snapshot of recorded requests.
func (m *MockTransport) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/events"
	"github.com/hanpama/gqlenv/internal/reqid"
)

// AcceptHeader negotiates the GraphQL-over-HTTP media type with a plain JSON
// fallback.
const AcceptHeader = "application/graphql-response+json; charset=utf-8, application/json; charset=utf-8"

// Request is the JSON body posted to the endpoint.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables"`
}

// Response is a decoded GraphQL response. Data is kept when Errors is set so
// partial results can still be committed.
type Response struct {
	Data       map[string]any `json:"data"`
	Errors     GraphQLErrors  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Err returns the GraphQL errors as an error, or nil.
func (r *Response) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors
}

// Sender executes a single GraphQL request.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Transport posts GraphQL requests to one endpoint. It keeps no state between
// calls; every Send is a new HTTP exchange.
type Transport struct {
	endpoint string
	opts     *Options
}

var _ Sender = (*Transport)(nil)

func New(endpoint string, opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Transport{endpoint: endpoint, opts: o}
}

func (t *Transport) Endpoint() string { return t.endpoint }

func (t *Transport) Send(ctx context.Context, req Request) (resp *Response, err error) {
	if t.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.Ensure(ctx)

	status := 0
	start := time.Now()
	eventbus.Publish(ctx, t.opts.Bus, events.TransportStart{Endpoint: t.endpoint, OperationName: req.OperationName})
	defer func() {
		gqlErrs := 0
		if resp != nil {
			gqlErrs = len(resp.Errors)
		}
		eventbus.Publish(ctx, t.opts.Bus, events.TransportFinish{
			Endpoint:      t.endpoint,
			OperationName: req.OperationName,
			Status:        status,
			GraphQLErrors: gqlErrs,
			Err:           err,
			Duration:      time.Since(start),
		})
		t.opts.Logger.Debug("graphql request",
			zap.String("request_id", rid),
			zap.String("operation", req.OperationName),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}()

	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transport: encode request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, Err: err}
	}
	for k, v := range t.opts.Headers {
		hreq.Header[k] = append([]string(nil), v...)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", AcceptHeader)
	hreq.Header.Set(reqid.Header, rid)
	if t.opts.TokenSource != nil {
		tok, err := t.opts.TokenSource.Token()
		if err != nil {
			return nil, &TransportError{Endpoint: t.endpoint, Err: fmt.Errorf("token: %w", err)}
		}
		tok.SetAuthHeader(hreq)
	}

	hresp, err := t.opts.HTTPClient.Do(hreq)
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, Err: err}
	}
	defer hresp.Body.Close()
	status = hresp.StatusCode

	raw, err := t.readBody(hresp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: t.endpoint, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &TransportError{Endpoint: t.endpoint, StatusCode: status, Err: errors.New(http.StatusText(status))}
	}
	return decodeResponse(t.endpoint, status, raw)
}

func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	if t.opts.MaxResponseBytes <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, t.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > t.opts.MaxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return raw, nil
}

func decodeResponse(endpoint string, status int, raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: status, Err: fmt.Errorf("invalid JSON body: %w", err)}
	}
	// A body with neither member is JSON but not a GraphQL response.
	if resp.Data == nil && len(resp.Errors) == 0 && !hasDataMember(raw) {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: status, Err: errors.New("response has neither data nor errors")}
	}
	return &resp, nil
}

func hasDataMember(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, ok := probe["data"]
	return ok
}

package environment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/gqlenv/internal/eventbus"
	"github.com/hanpama/gqlenv/internal/events"
	"github.com/hanpama/gqlenv/internal/transport"
)

const meQuery = `query MeQuery { me { id email } }`

func TestExecuteCommitsBeforeReturning(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	env := New(mt)

	res, err := env.Execute(context.Background(), Query(meQuery, nil))
	require.NoError(t, err)
	require.Equal(t, events.SourceNetwork, res.Source)
	require.Equal(t, map[string]any{"me": map[string]any{"id": "42", "email": "a@x.com"}}, res.Data)

	rec, ok := env.Record("42")
	require.True(t, ok)
	require.Equal(t, "a@x.com", rec.Fields["email"])

	cached, ok := env.Lookup(Query(meQuery, nil))
	require.True(t, ok)
	require.Equal(t, "a@x.com", cached.Data["me"].(map[string]any)["email"])
	require.Len(t, mt.Calls(), 1)
}

func TestExecuteServesFromStore(t *testing.T) {
	mt := transport.NewMockTransportJSON(
		`{"data":{"me":{"id":"42","email":"a@x.com"}}}`,
		`{"data":{"me":{"id":"42","email":"b@x.com"}}}`,
	)
	env := New(mt)
	ctx := context.Background()

	_, err := env.Execute(ctx, Query(meQuery, nil))
	require.NoError(t, err)

	res, err := env.Execute(ctx, Query(meQuery, nil))
	require.NoError(t, err)
	require.Equal(t, events.SourceStore, res.Source)
	require.Len(t, mt.Calls(), 1)

	// A narrower query over the same records is also a store hit.
	res, err = env.Execute(ctx, Query(`{ me { email } }`, nil))
	require.NoError(t, err)
	require.Equal(t, events.SourceStore, res.Source)
	require.Len(t, mt.Calls(), 1)

	res, err = env.Execute(ctx, Query(meQuery, nil), Refetch())
	require.NoError(t, err)
	require.Equal(t, events.SourceNetwork, res.Source)
	require.Equal(t, "b@x.com", res.Data["me"].(map[string]any)["email"])
	require.Len(t, mt.Calls(), 2)
}

func TestExecuteStoreOnly(t *testing.T) {
	env := New(transport.NewMockTransportJSON())
	_, err := env.Execute(context.Background(), Query(meQuery, nil), WithFetchPolicy(StoreOnly))
	require.ErrorIs(t, err, ErrNotCached)
}

func TestStoreOnlyMutationSendsNothing(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"rename":{"id":"1","name":"A"}}}`)
	env := New(mt)
	_, err := env.Execute(context.Background(), Query(`mutation { rename(id: "1", name: "A") { id name } }`, nil), WithFetchPolicy(StoreOnly))
	require.ErrorIs(t, err, ErrNotCached)
	require.Empty(t, mt.Calls())
}

func TestExecuteDeduplicatesInFlight(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	release := mt.Hold()
	bus := eventbus.New()
	var mu sync.Mutex
	starts := 0
	eventbus.Subscribe(bus, func(context.Context, events.ExecuteStart) {
		mu.Lock()
		starts++
		mu.Unlock()
	})
	env := New(mt, WithEventBus(bus))

	vars := func() map[string]any { return map[string]any{"a": 1, "b": []any{"x"}} }
	type out struct {
		res *Result
		err error
	}
	results := make(chan out, 2)
	for range 2 {
		go func() {
			res, err := env.Execute(context.Background(), Query(meQuery, vars()))
			results <- out{res, err}
		}()
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return starts == 2 && len(mt.Calls()) == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()

	sources := map[events.Source]int{}
	for range 2 {
		o := <-results
		require.NoError(t, o.err)
		require.Equal(t, "a@x.com", o.res.Data["me"].(map[string]any)["email"])
		sources[o.res.Source]++
	}
	require.Len(t, mt.Calls(), 1)
	require.Equal(t, 1, sources[events.SourceNetwork])
	require.Equal(t, 1, sources[events.SourceDeduplicated]+sources[events.SourceStore])
}

func TestSharedRequestCountedOnceWhenLeaderCancels(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	release := mt.Hold()
	bus := eventbus.New()
	var mu sync.Mutex
	starts := 0
	eventbus.Subscribe(bus, func(context.Context, events.ExecuteStart) {
		mu.Lock()
		starts++
		mu.Unlock()
	})
	env := New(mt, WithEventBus(bus))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := env.Execute(leaderCtx, Query(meQuery, nil))
		leaderDone <- err
	}()
	require.Eventually(t, func() bool { return len(mt.Calls()) == 1 }, time.Second, time.Millisecond)

	type out struct {
		res *Result
		err error
	}
	waiter := make(chan out, 1)
	go func() {
		res, err := env.Execute(context.Background(), Query(meQuery, nil))
		waiter <- out{res, err}
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return starts == 2
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderDone, context.Canceled)
	release()

	o := <-waiter
	require.NoError(t, o.err)
	require.Equal(t, events.SourceNetwork, o.res.Source)
	require.Len(t, mt.Calls(), 1)
}

func TestExecuteDifferentDescriptorsAreIndependent(t *testing.T) {
	mt := transport.NewMockTransport(func(_ context.Context, req transport.Request) (*transport.Response, error) {
		return transport.MustResponse(`{"data":{"user":{"id":"` + req.Variables["id"].(string) + `"}}}`), nil
	})
	env := New(mt)
	q := `query U($id: ID!) { user(id: $id) { id } }`
	_, err := env.Execute(context.Background(), Query(q, map[string]any{"id": "1"}))
	require.NoError(t, err)
	_, err = env.Execute(context.Background(), Query(q, map[string]any{"id": "2"}))
	require.NoError(t, err)
	require.Len(t, mt.Calls(), 2)

	_, ok := env.Record("1")
	require.True(t, ok)
	_, ok = env.Record("2")
	require.True(t, ok)
}

func TestExecutePartialFailureCommitsData(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"1"}},"errors":[{"message":"email hidden","path":["me","email"]}]}`)
	env := New(mt)

	res, err := env.Execute(context.Background(), Query(meQuery, nil))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "email hidden", res.Errors[0].Message)

	_, ok := env.Record("1")
	require.True(t, ok)
}

func TestExecuteTransportErrorReturned(t *testing.T) {
	boom := &transport.TransportError{Endpoint: "mock", StatusCode: 502, Err: errors.New("bad gateway")}
	mt := transport.NewMockTransport(func(context.Context, transport.Request) (*transport.Response, error) {
		return nil, boom
	})
	env := New(mt)

	_, err := env.Execute(context.Background(), Query(meQuery, nil))
	var te *transport.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, 502, te.StatusCode)
	require.Equal(t, 0, env.RecordCount())

	// Settled failures do not stay in the in-flight table.
	_, err = env.Execute(context.Background(), Query(meQuery, nil))
	require.Error(t, err)
	require.Len(t, mt.Calls(), 2)
}

func TestExecuteCallerCancelStillCommits(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	release := mt.Hold()
	env := New(mt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.Execute(ctx, Query(meQuery, nil))
		done <- err
	}()
	require.Eventually(t, func() bool { return len(mt.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	release()
	require.Eventually(t, func() bool {
		_, ok := env.Record("42")
		return ok
	}, time.Second, time.Millisecond)
	_, ok := env.Lookup(Query(meQuery, nil))
	require.True(t, ok)
}

func TestDisposeAbortsAndDiscards(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	release := mt.Hold()
	defer release()
	bus := eventbus.New()
	var disposed []events.EnvironmentDisposed
	eventbus.Subscribe(bus, func(_ context.Context, e events.EnvironmentDisposed) { disposed = append(disposed, e) })
	env := New(mt, WithEventBus(bus))

	fut := env.Load(context.Background(), Query(meQuery, nil))
	require.Eventually(t, func() bool { return len(mt.Calls()) == 1 }, time.Second, time.Millisecond)
	env.Dispose()
	env.Dispose()

	_, err := fut.Wait(context.Background())
	require.Error(t, err)
	require.Equal(t, Rejected, fut.State())
	require.Equal(t, 0, env.RecordCount())
	require.Len(t, disposed, 1)
	require.Equal(t, env.ID(), disposed[0].EnvironmentID)

	_, err = env.Execute(context.Background(), Query(meQuery, nil))
	require.ErrorIs(t, err, ErrDisposed)
	_, ok := env.Lookup(Query(meQuery, nil))
	require.False(t, ok)
}

func TestLoadFuture(t *testing.T) {
	mt := transport.NewMockTransportJSON(`{"data":{"me":{"id":"42","email":"a@x.com"}}}`)
	release := mt.Hold()
	env := New(mt)
	d := Query(meQuery, nil)

	fut := env.Load(context.Background(), d)
	require.Equal(t, Pending, fut.State())
	_, err := fut.Result()
	require.ErrorIs(t, err, ErrPending)

	release()
	res, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, Resolved, fut.State())
	require.Equal(t, "42", res.Data["me"].(map[string]any)["id"])

	again := env.Load(context.Background(), d)
	require.Equal(t, Resolved, again.State())
	res, err = again.Result()
	require.NoError(t, err)
	require.Equal(t, events.SourceStore, res.Source)
	require.Len(t, mt.Calls(), 1)
}

func TestMutationsAreNotDeduplicatedOrCached(t *testing.T) {
	mt := transport.NewMockTransportJSON(
		`{"data":{"rename":{"id":"1","name":"A"}}}`,
		`{"data":{"rename":{"id":"1","name":"A"}}}`,
	)
	env := New(mt)
	d := Query(`mutation { rename(id: "1", name: "A") { id name } }`, nil)
	for range 2 {
		res, err := env.Execute(context.Background(), d)
		require.NoError(t, err)
		require.Equal(t, events.SourceNetwork, res.Source)
	}
	require.Len(t, mt.Calls(), 2)

	rec, ok := env.Record("1")
	require.True(t, ok)
	require.Equal(t, "A", rec.Fields["name"])
}

func TestExecuteParseError(t *testing.T) {
	mt := transport.NewMockTransportJSON()
	env := New(mt)
	_, err := env.Execute(context.Background(), Query(`{ me {`, nil))
	require.Error(t, err)
	require.Empty(t, mt.Calls())
}

func TestDescriptorKey(t *testing.T) {
	a, err := Query(meQuery, map[string]any{"a": 1, "b": map[string]any{"y": 2, "x": 1}}).Key()
	require.NoError(t, err)
	b, err := Query(meQuery, map[string]any{"b": map[string]any{"x": 1, "y": 2}, "a": 1.0}).Key()
	require.NoError(t, err)
	require.Equal(t, a, b)

	empty, _ := Query(meQuery, nil).Key()
	emptyMap, _ := Query(meQuery, map[string]any{}).Key()
	require.Equal(t, empty, emptyMap)

	other, _ := Query(meQuery, map[string]any{"a": 2}).Key()
	require.NotEqual(t, a, other)
	named, _ := Descriptor{Query: meQuery, OperationName: "MeQuery"}.Key()
	require.NotEqual(t, empty, named)
}

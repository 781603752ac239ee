package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestPublishDispatchesByType(t *testing.T) {
	b := New()
	var got []int
	Subscribe(b, func(_ context.Context, p ping) { got = append(got, p.n) })
	Subscribe(b, func(_ context.Context, _ pong) { t.Fatalf("pong handler called for ping") })

	Publish(context.Background(), b, ping{n: 1})
	Publish(context.Background(), b, ping{n: 2})
	require.Equal(t, []int{1, 2}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	h := func(context.Context, ping) { calls++ }
	unsubA := Subscribe(b, h)
	Subscribe(b, h)

	Publish(context.Background(), b, ping{})
	require.Equal(t, 2, calls)

	unsubA()
	unsubA()
	Publish(context.Background(), b, ping{})
	require.Equal(t, 3, calls)
}

func TestNilBus(t *testing.T) {
	var b *Bus
	unsub := Subscribe(b, func(context.Context, ping) { t.Fatalf("unexpected call") })
	Publish(context.Background(), b, ping{})
	unsub()
}

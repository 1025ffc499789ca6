package changefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tally/internal/store"
)

func TestHubCoalescesSignals(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Expenses}
	ch, stop := hub.Listen(c)
	defer stop()

	hub.Publish(c)
	hub.Publish(c)
	hub.Publish(Change{Owner: "u2", Collection: Expenses})

	select {
	case <-ch:
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestListenStopIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Categories}
	_, stop := hub.Listen(c)
	require.Equal(t, 1, hub.Listeners(c))
	stop()
	stop()
	assert.Equal(t, 0, hub.Listeners(c))
}

type recorder[T any] struct {
	mu    sync.Mutex
	snaps []store.Snapshot[T]
	got   chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{got: make(chan struct{}, 16)}
}

func (r *recorder[T]) fn(s store.Snapshot[T]) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder[T]) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func (r *recorder[T]) last() store.Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func TestWatchDeliversInitialAndChanges(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Expenses}

	var mu sync.Mutex
	data := []string{"a"}
	load := func(context.Context) ([]string, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), data...), nil
	}

	rec := newRecorder[string]()
	stop, err := Watch(context.Background(), hub, c, load, rec.fn)
	require.NoError(t, err)
	defer stop()

	rec.wait(t)
	assert.Equal(t, []string{"a"}, rec.last().Items)
	assert.Equal(t, "u1", rec.last().Owner)

	mu.Lock()
	data = append(data, "b")
	mu.Unlock()
	hub.Publish(c)

	rec.wait(t)
	assert.Equal(t, []string{"a", "b"}, rec.last().Items)
}

func TestWatchFailsWhenFirstLoadFails(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Expenses}
	boom := errors.New("unreachable")

	_, err := Watch(context.Background(), hub, c, func(context.Context) ([]int, error) { return nil, boom }, func(store.Snapshot[int]) {})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, hub.Listeners(c))
}

func TestWatchStopsDelivering(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Categories}
	var loads atomic.Int32
	load := func(context.Context) ([]int, error) {
		loads.Add(1)
		return []int{1}, nil
	}

	rec := newRecorder[int]()
	stop, err := Watch(context.Background(), hub, c, load, rec.fn)
	require.NoError(t, err)
	rec.wait(t)

	stop()
	stop()
	hub.Publish(c)

	select {
	case <-rec.got:
		t.Fatal("no snapshot expected after stop")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestWatchSurvivesCallerContext(t *testing.T) {
	hub := NewHub()
	c := Change{Owner: "u1", Collection: Expenses}
	ctx, cancel := context.WithCancel(context.Background())

	rec := newRecorder[int]()
	stop, err := Watch(ctx, hub, c, func(context.Context) ([]int, error) { return []int{1}, nil }, rec.fn)
	require.NoError(t, err)
	defer stop()
	rec.wait(t)

	cancel()
	hub.Publish(c)
	rec.wait(t)
}

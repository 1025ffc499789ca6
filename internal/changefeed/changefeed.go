// Package changefeed fans out "collection changed" signals inside a process and
// turns them into full snapshots for subscribers.
package changefeed

import (
	"context"
	"log/slog"
	"sync"

	"tally/internal/store"
)

// Collection names one of an owner's collections.
type Collection string

const (
	Expenses   Collection = "expenses"
	Categories Collection = "categories"
)

// Change says that a collection of an owner was modified.
type Change struct {
	Owner      string     `json:"owner"`
	Collection Collection `json:"collection"`
}

// Notifier is what stores call after a successful write.
type Notifier interface {
	Notify(ctx context.Context, c Change)
}

// Hub delivers changes to listeners in the same process. Signals coalesce: a
// listener that has not consumed the previous signal receives no second one.
type Hub struct {
	mu        sync.Mutex
	next      int
	listeners map[Change]map[int]chan struct{}
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[Change]map[int]chan struct{})}
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, c Change) {
	h.Publish(c)
}

// Publish signals every listener of c without blocking.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners[c] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listen registers a listener for c. The returned function removes it.
func (h *Hub) Listen(c Change) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	id := h.next
	h.next++
	if h.listeners[c] == nil {
		h.listeners[c] = make(map[int]chan struct{})
	}
	h.listeners[c][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[c], id)
			if len(h.listeners[c]) == 0 {
				delete(h.listeners, c)
			}
		})
	}
}

// Listeners returns the number of registered listeners of c.
func (h *Hub) Listeners(c Change) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners[c])
}

// Watch subscribes fn to the collection c. The first load happens before Watch
// returns so that an unreachable store fails the subscription; that snapshot and
// every later one are delivered from a dedicated goroutine, one at a time.
//
// The subscription outlives ctx; the returned function stops delivery. A snapshot
// that is already being delivered is not waited for.
func Watch[T any](ctx context.Context, hub *Hub, c Change, load func(context.Context) ([]T, error), fn func(store.Snapshot[T])) (store.Unsubscribe, error) {
	signals, unlisten := hub.Listen(c)

	items, err := load(ctx)
	if err != nil {
		unlisten()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := func() {
		cancel()
		unlisten()
	}

	go func() {
		defer unlisten()
		if ctx.Err() != nil {
			return
		}
		fn(store.Snapshot[T]{Owner: c.Owner, Items: items})
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
			}
			items, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Snapshot reload failed",
					"component", "changefeed",
					"owner", c.Owner,
					"collection", c.Collection,
					"error", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(store.Snapshot[T]{Owner: c.Owner, Items: items})
		}
	}()

	return store.Unsubscribe(stop), nil
}

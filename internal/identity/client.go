package identity

import (
	"context"
	"sync"

	"tally/internal/store"
)

// FederatedProvider authenticates against an external identity provider.
type FederatedProvider interface {
	Authenticate(ctx context.Context) (store.Identity, error)
}

// Client is the identity state of one session. It implements store.IdentityProvider.
type Client struct {
	dir       *Directory
	federated FederatedProvider

	mu        sync.Mutex
	current   *store.Identity
	listeners map[int]func(*store.Identity)
	next      int
	notifyMu  sync.Mutex
}

var _ store.IdentityProvider = (*Client)(nil)

// NewClient returns a signed-out client. federated may be nil.
func NewClient(dir *Directory, federated FederatedProvider) *Client {
	return &Client{
		dir:       dir,
		federated: federated,
		listeners: make(map[int]func(*store.Identity)),
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) (store.Identity, error) {
	u, err := c.dir.Register(ctx, email, password)
	if err != nil {
		return store.Identity{}, err
	}
	id := store.Identity{UID: u.UID, Email: u.Email}
	c.set(&id)
	return id, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (store.Identity, error) {
	u, err := c.dir.Authenticate(ctx, email, password)
	if err != nil {
		return store.Identity{}, err
	}
	id := store.Identity{UID: u.UID, Email: u.Email}
	c.set(&id)
	return id, nil
}

func (c *Client) SignInWithFederatedProvider(ctx context.Context) (store.Identity, error) {
	if c.federated == nil {
		return store.Identity{}, ErrFederatedUnavailable
	}
	id, err := c.federated.Authenticate(ctx)
	if err != nil {
		return store.Identity{}, err
	}
	c.set(&id)
	return id, nil
}

func (c *Client) SignOut(_ context.Context) error {
	c.set(nil)
	return nil
}

// Current returns the signed-in identity or nil.
func (c *Client) Current() *store.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// OnSessionChanged calls fn with the current identity immediately and then after
// every sign-in and sign-out.
func (c *Client) OnSessionChanged(fn func(*store.Identity)) store.Unsubscribe {
	c.notifyMu.Lock()
	c.mu.Lock()
	id := c.next
	c.next++
	c.listeners[id] = fn
	current := copyIdentity(c.current)
	c.mu.Unlock()
	fn(current)
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) set(id *store.Identity) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.current = copyIdentity(id)
	listeners := make([]func(*store.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *store.Identity) *store.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tally/internal/cache"
	"tally/internal/log"
	"tally/internal/store"
)

// Session ties one identity provider client to one Shell. It replaces any
// process-wide notion of "the current user": every client gets its own.
type Session struct {
	idp      store.IdentityProvider
	profiles store.ProfileStore
	shell    *Shell
	cache    cache.Cache[store.Profile]
	logger   *log.Logger

	mu       sync.Mutex
	ctx      context.Context
	current  *store.Identity
	profile  store.Profile
	lastErr  error
	unlisten store.Unsubscribe
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithProfileCache shares a profile cache between sessions.
func WithProfileCache(c cache.Cache[store.Profile]) SessionOption {
	return func(s *Session) { s.cache = c }
}

// WithSessionLogger sets the logger; the component is forced to "session".
func WithSessionLogger(l *log.Logger) SessionOption {
	return func(s *Session) { s.logger = l.WithComponent(log.ComponentSession) }
}

func NewSession(idp store.IdentityProvider, profiles store.ProfileStore, shell *Shell, opts ...SessionOption) *Session {
	s := &Session{
		idp:      idp,
		profiles: profiles,
		shell:    shell,
		logger:   log.Default(log.ComponentSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewLRUCache[store.Profile](64, time.Hour)
	}
	return s
}

// Start listens for identity changes. The identity known at this moment, if any,
// is applied before Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.unlisten != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	unlisten := s.idp.OnSessionChanged(s.onSessionChanged)

	s.mu.Lock()
	s.unlisten = unlisten
	s.mu.Unlock()
	return nil
}

func (s *Session) onSessionChanged(id *store.Identity) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if id == nil {
		s.setCurrent(nil, store.Profile{}, nil)
		s.shell.Stop()
		s.logger.InfoContext(ctx, "Signed out")
		return
	}

	profile, err := s.ensureProfile(ctx, *id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to ensure profile", log.FieldOwner, id.UID, log.FieldError, err)
		s.setCurrent(nil, store.Profile{}, fmt.Errorf("%w: ensure profile: %w", ErrCollaborator, err))
		s.shell.Stop()
		return
	}

	if err := s.shell.Start(ctx, *id); err != nil {
		s.logger.ErrorContext(ctx, "Failed to start session", log.FieldOwner, id.UID, log.FieldError, err)
		s.setCurrent(nil, store.Profile{}, err)
		return
	}
	s.setCurrent(id, profile, nil)
	s.logger.InfoContext(ctx, "Signed in", log.FieldOwner, id.UID)
}

func (s *Session) ensureProfile(ctx context.Context, id store.Identity) (store.Profile, error) {
	if p, ok := s.cache.Get(id.UID); ok {
		return p, nil
	}
	p, created, err := s.profiles.EnsureProfile(ctx, id)
	if err != nil {
		return store.Profile{}, err
	}
	if created {
		s.logger.InfoContext(ctx, "Profile created", log.FieldOwner, id.UID)
	}
	s.cache.Set(id.UID, p)
	return p, nil
}

func (s *Session) setCurrent(id *store.Identity, p store.Profile, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != nil {
		cp := *id
		s.current = &cp
	} else {
		s.current = nil
	}
	s.profile = p
	s.lastErr = err
}

// settled reports the outcome of the identity change the provider just announced.
func (s *Session) settled(id store.Identity) (store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr != nil {
		return store.Identity{}, s.lastErr
	}
	return id, nil
}

// SignUp registers a new account and signs it in.
func (s *Session) SignUp(ctx context.Context, email, password string) (store.Identity, error) {
	id, err := s.idp.SignUp(ctx, email, password)
	if err != nil {
		return store.Identity{}, err
	}
	return s.settled(id)
}

// SignIn authenticates with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) (store.Identity, error) {
	id, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		return store.Identity{}, err
	}
	return s.settled(id)
}

// SignInWithFederatedProvider authenticates through the configured external provider.
func (s *Session) SignInWithFederatedProvider(ctx context.Context) (store.Identity, error) {
	id, err := s.idp.SignInWithFederatedProvider(ctx)
	if err != nil {
		return store.Identity{}, err
	}
	return s.settled(id)
}

func (s *Session) SignOut(ctx context.Context) error {
	if err := s.idp.SignOut(ctx); err != nil {
		return fmt.Errorf("%w: sign out: %w", ErrCollaborator, err)
	}
	return nil
}

// Current returns the signed-in identity or nil.
func (s *Session) Current() *store.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Profile returns the profile of the signed-in user.
func (s *Session) Profile() (store.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.current != nil
}

func (s *Session) Shell() *Shell {
	return s.shell
}

// Close stops listening for identity changes and ends the shell session.
func (s *Session) Close() {
	s.mu.Lock()
	unlisten := s.unlisten
	s.unlisten = nil
	s.mu.Unlock()
	if unlisten != nil {
		unlisten()
	}
	s.shell.Stop()
}

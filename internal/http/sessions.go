package http

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tally/internal/cache"
	"tally/internal/identity"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/store"
)

// RegistryConfig wires a SessionRegistry to its collaborators.
type RegistryConfig struct {
	Directory *identity.Directory
	// Federated may be nil, in which case federated sign-in is unavailable.
	Federated   identity.FederatedProvider
	Data        store.DataStore
	Profiles    store.ProfileStore
	MaxSessions int
	IdleTimeout time.Duration
	Logger      *log.Logger
	Now         func() time.Time
}

// SessionRegistry maps bearer tokens to client sessions. Every token owns its
// own identity client and shell, so two clients never share a signed-in user.
// Sessions idle for longer than IdleTimeout are closed.
type SessionRegistry struct {
	cfg      RegistryConfig
	profiles *cache.LRUCache[store.Profile]
	sessions *cache.LRUCache[*services.Session]
	logger   *log.Logger
}

func NewSessionRegistry(cfg RegistryConfig) *SessionRegistry {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default(log.ComponentSession)
	}

	r := &SessionRegistry{
		cfg:      cfg,
		profiles: cache.NewLRUCache[store.Profile](cfg.MaxSessions, time.Hour, cache.WithClock[store.Profile](cfg.Now)),
		logger:   logger,
	}
	r.sessions = cache.NewLRUCache[*services.Session](cfg.MaxSessions, cfg.IdleTimeout,
		cache.WithSlidingExpiry[*services.Session](),
		cache.WithClock[*services.Session](cfg.Now),
		cache.WithEvictCallback(func(token string, s *services.Session) {
			s.Close()
			r.logger.DebugContext(context.Background(), "Session closed", "token_prefix", token[:8])
		}),
	)
	return r
}

// Create opens a signed-out session and returns its token.
func (r *SessionRegistry) Create(ctx context.Context) (string, *services.Session, error) {
	shell := services.NewShell(r.cfg.Data, services.WithClock(r.cfg.Now), services.WithLogger(r.logger))
	session := services.NewSession(
		identity.NewClient(r.cfg.Directory, r.cfg.Federated),
		r.cfg.Profiles,
		shell,
		services.WithProfileCache(r.profiles),
		services.WithSessionLogger(r.logger),
	)
	if err := session.Start(ctx); err != nil {
		return "", nil, err
	}
	token := uuid.NewString()
	r.sessions.Set(token, session)
	return token, session, nil
}

// Lookup returns the session of token and restarts its idle timer.
func (r *SessionRegistry) Lookup(token string) (*services.Session, bool) {
	if token == "" {
		return nil, false
	}
	return r.sessions.Get(token)
}

// Remove closes and forgets the session of token.
func (r *SessionRegistry) Remove(token string) {
	s, ok := r.sessions.Get(token)
	if !ok {
		return
	}
	r.sessions.Delete(token)
	s.Close()
}

func (r *SessionRegistry) Len() int {
	return r.sessions.Size()
}

// Register hands the session and profile caches to m for periodic sweeping.
func (r *SessionRegistry) Register(m *cache.Manager) {
	m.Register("sessions", r.sessions)
	m.Register("profiles", r.profiles)
}

// CleanExpired closes sessions whose idle timeout passed.
func (r *SessionRegistry) CleanExpired() int {
	return r.sessions.CleanExpired()
}

// Close ends every session.
func (r *SessionRegistry) Close() int {
	return r.sessions.Purge()
}

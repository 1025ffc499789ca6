package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/amqp"
	"tally/internal/changefeed"
	"tally/internal/local"
	"tally/internal/storage"
	"tally/internal/store/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case LocalBackend:
		return f.createLocalBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// feed is the change-feed wiring shared by the sqlite and local backends.
type feed struct {
	hub      *changefeed.Hub
	notifier changefeed.Notifier
	client   *amqp.Client
}

func (f *DefaultFactory) newFeed(config Config) feed {
	hub := changefeed.NewHub()
	fd := feed{hub: hub, notifier: hub}
	if config.AMQPURL == "" {
		return fd
	}

	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, changes stay in this process", "error", err)
		return fd
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	fd.client = client
	fd.notifier = amqp.NewNotifier(client, hub)
	return fd
}

func (fd feed) run() func(ctx context.Context) error {
	if fd.client == nil {
		return nil
	}
	return func(ctx context.Context) error {
		err := fd.client.ForwardChanges(ctx, fd.hub)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func (fd feed) close() error {
	if fd.client == nil {
		return nil
	}
	return fd.client.Close()
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*Backend, error) {
	fd := f.newFeed(config)
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath,
		storage.WithHub(fd.hub),
		storage.WithNotifier(fd.notifier))
	if err != nil {
		fd.close()
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", fd.client != nil)

	return &Backend{
		Data:     repo,
		Profiles: repo,
		Users:    repo,
		Hub:      fd.hub,
		Run:      fd.run(),
		Cleanup: func() error {
			return errors.Join(fd.close(), repo.Close())
		},
	}, nil
}

func (f *DefaultFactory) createLocalBackend(ctx context.Context, config Config) (*Backend, error) {
	var (
		blobs   local.BlobStore
		closers []func() error
	)
	if config.RedisURL != "" {
		rb, err := local.NewRedisBlobs(ctx, config.RedisURL, config.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis blobs: %w", err)
		}
		blobs = rb
		closers = append(closers, rb.Close)
	} else {
		blobs = local.NewMemoryBlobs()
	}

	fd := f.newFeed(config)
	closers = append(closers, fd.close)
	s := local.NewStore(blobs, local.WithHub(fd.hub), local.WithNotifier(fd.notifier))

	f.logger.Info("Initialized local backend",
		"redis", config.RedisURL != "",
		"amqp_enabled", fd.client != nil)

	return &Backend{
		Data:     s,
		Profiles: s,
		Users:    s,
		Hub:      fd.hub,
		Run:      fd.run(),
		Cleanup: func() error {
			var errs []error
			for _, c := range closers {
				errs = append(errs, c())
			}
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*Backend, error) {
	s := memory.New()
	f.logger.Info("Initialized memory backend")
	return &Backend{
		Data:     s,
		Profiles: s,
		Users:    s,
		Hub:      s.Hub(),
	}, nil
}

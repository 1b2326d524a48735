package backend

import (
	"context"
	"fmt"

	"lancamentos/internal/adapters"
	"lancamentos/internal/amqp"
	"lancamentos/internal/auth"
	"lancamentos/internal/cache"
	"lancamentos/internal/log"
	"lancamentos/internal/memory"
	"lancamentos/internal/rest"
	"lancamentos/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	caches *cache.Manager
}

// NewFactory creates a backend factory. Caches created by backends are
// registered with caches when it is not nil.
func NewFactory(logger *log.Logger, caches *cache.Manager) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
		caches: caches,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RESTBackend:
		return f.createRESTBackend(ctx, config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// NewRESTClient builds the upstream API client from config. The worker and
// the export command use it directly.
func NewRESTClient(config Config, logger *log.Logger) (*rest.Client, error) {
	var creds auth.CredentialStore = auth.NewMemoryStore()
	if config.APITokenFile != "" {
		creds = auth.NewFileStore(config.APITokenFile)
	}
	return rest.New(rest.Config{
		BaseURL:     config.APIBaseURL,
		Username:    config.APIUsername,
		Password:    config.APIPassword,
		Timeout:     config.APITimeout,
		LookupTTL:   config.LookupCacheTTL,
		Credentials: creds,
		Logger:      logger,
	})
}

func (f *DefaultFactory) createRESTBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := NewRESTClient(config, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize REST client: %w", err)
	}
	if f.caches != nil {
		f.caches.Register(client.LookupCache())
	}

	// a failed login is not fatal; the first request retries it
	if config.APIUsername != "" {
		if err := client.Login(ctx); err != nil {
			f.logger.Warn("Initial login failed", log.FieldError, err)
		}
	}

	f.logger.Info("Initialized REST backend", "base_url", config.APIBaseURL)

	return &BackendResult{
		Ledger:  client,
		Health:  client,
		Cleanup: nil,
	}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	// AMQP client is optional
	var amqpClient *amqp.Client
	var publisher adapters.Publisher
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without queue", log.FieldError, err)
		} else {
			publisher = amqpClient
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	adapter := adapters.NewSQLiteAdapter(repo, publisher, f.logger)

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", publisher != nil)

	return &BackendResult{
		Ledger: adapter,
		Health: repo,
		Cleanup: func() error {
			if amqpClient != nil {
				if err := amqpClient.Close(); err != nil {
					f.logger.Warn("Failed to close AMQP client", log.FieldError, err)
				}
			}
			return repo.Close()
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store, err := memory.NewFromFile(config.MemorySeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "seed_file", config.MemorySeedFile)

	return &BackendResult{
		Ledger:  store,
		Health:  store,
		Cleanup: nil,
	}, nil
}

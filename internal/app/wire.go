package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paisadex/escrowd/internal/backend"
	s3blob "github.com/paisadex/escrowd/internal/blob/s3"
	"github.com/paisadex/escrowd/internal/cache/redis"
	"github.com/paisadex/escrowd/internal/chain"
	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
	"github.com/paisadex/escrowd/internal/lifecycle"
	"github.com/paisadex/escrowd/internal/notify"
	"github.com/paisadex/escrowd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Backend is the system of record for trades and vault state.
	Backend *backend.Client

	// Wallet is nil in monitor mode, which never executes operations.
	Wallet  domain.Wallet
	Gateway *chain.Gateway

	// Durable side: operation journal and observed-transition audit.
	Journal     domain.OperationJournal
	Transitions domain.TransitionStore

	// Redis side: per-resource locks, vault position cache, event bus.
	Locks domain.LockManager
	Vault domain.VaultCache
	Bus   domain.SignalBus

	// Archiver is nil unless S3 is enabled.
	Archiver lifecycle.Archiver

	Notifier *notify.Notifier
}

// needsWallet returns true for modes that execute on-chain operations.
// Monitor mode only observes, so it runs without any key material.
func needsWallet(mode string) bool {
	switch mode {
	case "trade", "serve", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Backend API client ---
	deps.Backend = backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken, cfg.Backend.Timeout)

	// --- PostgreSQL (operation journal, transition audit) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Journal = postgres.NewJournalStore(pool)
	deps.Transitions = postgres.NewTransitionStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Vault = redis.NewVaultCache(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- Chain gateway and wallet ---
	deps.Gateway = chain.NewGateway(config.Chains(), logger)
	closers = append(closers, deps.Gateway.Close)

	if needsWallet(cfg.Mode) {
		wallet, err := buildWallet(cfg, deps, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Wallet = wallet
	}

	// --- S3 trade archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Transitions)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildWallet selects the wallet implementation from config: an external
// keystore wallet signing locally through the chain gateway, or the custodial
// bot wallet executed server-side by the backend.
func buildWallet(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (domain.Wallet, error) {
	switch cfg.Wallet.Kind {
	case "external":
		return chain.NewKeystoreWallet(chain.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		}, deps.Gateway, cfg.Wallet.DefaultChain, nil, logger)
	case "bot":
		return backend.NewBotWallet(deps.Backend, cfg.Wallet.Address, logger), nil
	default:
		return nil, fmt.Errorf("unsupported wallet kind %q", cfg.Wallet.Kind)
	}
}

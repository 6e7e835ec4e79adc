package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/convertfi/bondd/internal/blob/s3"
	"github.com/convertfi/bondd/internal/cache/redis"
	"github.com/convertfi/bondd/internal/config"
	"github.com/convertfi/bondd/internal/crypto"
	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/factory"
	"github.com/convertfi/bondd/internal/notify"
	"github.com/convertfi/bondd/internal/store/postgres"
	"github.com/convertfi/bondd/internal/token"
)

// Dependencies bundles every backend the application needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Token capability opener for new ledgers: the in-process registry in
	// local mode, the ERC-20 adapter factory in chain mode.
	Opener factory.AccountOpener

	// Local-mode token books, keyed by address. Nil in chain mode.
	Books *token.Registry

	// Persistence
	BondStore  domain.BondStore
	EventStore domain.EventStore

	// Redis
	Bus   domain.EventBus
	Cache domain.SupplyCache

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Token backend, selected by mode ---
	switch strings.ToLower(cfg.Mode) {
	case "chain":
		client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: dial chain rpc: %w", err)
		}
		closers = append(closers, client.Close)

		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load signing key: %w", err)
		}
		logger.Info("wire: chain signer ready",
			slog.String("signer", crypto.AddressOf(key).Hex()),
			slog.Int64("chain_id", cfg.Chain.ChainID),
		)
		deps.Opener = token.NewChainOpener(client, key, big.NewInt(cfg.Chain.ChainID))

	default: // local
		reg := token.NewRegistry()
		for _, tok := range cfg.Tokens {
			reg.Register(common.HexToAddress(tok.Address), token.NewBook(tok.Symbol))
		}
		deps.Books = reg
		deps.Opener = reg
	}

	// --- PostgreSQL (optional; skipped when no host or DSN is configured) ---
	if cfg.Postgres.DSN != "" || cfg.Postgres.Host != "" {
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
		deps.BondStore = postgres.NewBondStore(pool)
		deps.EventStore = postgres.NewEventStore(pool)
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
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

		deps.Bus = redis.NewEventBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Cache = redis.NewSupplyCache(redisClient)
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Journal archiving needs the persistent stores to read from.
		if deps.BondStore != nil && deps.EventStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BondStore, deps.EventStore)
		}
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

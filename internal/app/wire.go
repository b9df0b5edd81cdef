package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/wagerledger/internal/blob/s3"
	"github.com/alanyoungcy/wagerledger/internal/cache/redis"
	"github.com/alanyoungcy/wagerledger/internal/config"
	"github.com/alanyoungcy/wagerledger/internal/crypto"
	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/notify"
	"github.com/alanyoungcy/wagerledger/internal/platform/rollup"
	"github.com/alanyoungcy/wagerledger/internal/server/handler"
	"github.com/alanyoungcy/wagerledger/internal/service"
	"github.com/alanyoungcy/wagerledger/internal/store/memory"
	"github.com/alanyoungcy/wagerledger/internal/store/postgres"
)

// Dependencies bundles every collaborator the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Primary store
	Store  domain.LedgerStore
	Reader domain.LedgerReader
	Audit  domain.AuditStore

	// Redis-backed, or in-process fallbacks
	PoolCache   domain.PoolCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Settlement reports
	Reports  domain.BlobReader
	Archiver domain.SettlementArchiver

	// Execution layer and the key that signs for it
	Layer    domain.ExecutionLayer
	Operator *crypto.Signer

	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Operator key ---
	if cfg.Operator.HasKey() {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		deps.Operator = signer
		logger.InfoContext(ctx, "operator key loaded", slog.String("address", signer.Address().Hex()))
	}

	// --- Primary store ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ConnectTimeout:  cfg.Postgres.ConnectTimeout.Duration,
			ApplicationName: "wagerledger-" + strings.ToLower(cfg.Mode),
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		ledgerStore := postgres.NewLedgerStore(pgClient.Pool())
		deps.Store = ledgerStore
		deps.Reader = ledgerStore
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	default:
		store := memory.New()
		if err := applyGrants(store, cfg.Storage.Grants); err != nil {
			return fail("storage grants", err)
		}
		deps.Store = store
		deps.Reader = store
		logger.WarnContext(ctx, "using in-memory ledger store; state is lost on exit")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PoolCache = redis.NewPoolCache(redisClient, cfg.Redis.PoolCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Locks = service.NewLocalLocks()
		deps.Bus = service.NewLocalBus()
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Reports = s3blob.NewReader(s3Client)
		if cfg.Sweeper.Archive {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Audit)
		}
	}

	// --- Execution layer ---
	if cfg.Rollup.Endpoint != "" {
		if deps.Operator == nil {
			return fail("rollup", crypto.ErrNoKey)
		}
		deps.Layer = rollup.NewClient(cfg.Rollup.Endpoint, deps.Operator, cfg.Rollup.Timeout.Duration, logger)
	} else {
		deps.Layer = rollup.NewLoopback()
		logger.WarnContext(ctx, "no rollup endpoint configured; delegation runs against the in-process loopback layer")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// applyGrants credits the configured starting balances.
func applyGrants(store *memory.Store, grants []config.GrantConfig) error {
	for i, g := range grants {
		if !common.IsHexAddress(g.Asset) || !common.IsHexAddress(g.Owner) {
			return fmt.Errorf("grants[%d]: invalid address", i)
		}
		if _, err := store.Fund(common.HexToAddress(g.Asset), common.HexToAddress(g.Owner), g.Amount); err != nil {
			return fmt.Errorf("grants[%d]: %w", i, err)
		}
	}
	return nil
}

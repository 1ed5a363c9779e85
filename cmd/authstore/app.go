package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/luoarch/go-auth-store/internal/breaker"
	"github.com/luoarch/go-auth-store/internal/config"
	"github.com/luoarch/go-auth-store/internal/durabletier"
	"github.com/luoarch/go-auth-store/internal/fasttier"
	"github.com/luoarch/go-auth-store/internal/locktable"
	"github.com/luoarch/go-auth-store/internal/metrics"
	"github.com/luoarch/go-auth-store/internal/orchestrator"
	"github.com/luoarch/go-auth-store/internal/queue"
	"github.com/luoarch/go-auth-store/internal/reconciler"
	"github.com/luoarch/go-auth-store/pkg/logger"
)

// app holds every long-lived component a subcommand wires up, so serve,
// migrate, and reconcile-once share one construction path instead of
// three divergent ones.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *metrics.Registry
	fast    fasttier.Store
	durable durabletier.Store
	brk     *breaker.Breaker
	locks   *locktable.Table
	orch    *orchestrator.Orchestrator
}

// loadConfig reads HybridConfig from configPath, falling back to
// environment variables only when configPath is empty.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.LoadConfigFromEnv()
	}
	return config.LoadConfig(configPath)
}

// buildApp wires every component from cfg, mirroring Connect's own
// fast-then-durable ordering but stopping short of calling Connect: the
// caller decides whether and when to connect.
func buildApp(cfg *config.Config) (*app, error) {
	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	reg := metrics.New(cfg.App.Name)

	fast, err := fasttier.NewRedisStore(&fasttier.Config{
		Addr: cfg.FastTier.Addr, Password: cfg.FastTier.Password, DB: cfg.FastTier.DB,
		PoolSize: cfg.FastTier.PoolSize, MinIdleConns: cfg.FastTier.MinIdleConns,
		DialTimeout: cfg.FastTier.DialTimeout, ReadTimeout: cfg.FastTier.ReadTimeout, WriteTimeout: cfg.FastTier.WriteTimeout,
		MaxRetries: cfg.FastTier.MaxRetries, MinRetryBackoff: cfg.FastTier.MinRetryBackoff, MaxRetryBackoff: cfg.FastTier.MaxRetryBackoff,
		DefaultTTL: cfg.TTL.DefaultTtl, KeyPrefix: cfg.FastTier.KeyPrefix, CASMaxAttempts: cfg.FastTier.CASMaxAttempts,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("authstore: building fast tier: %w", err)
	}

	codec, err := buildCodec(cfg)
	if err != nil {
		return nil, fmt.Errorf("authstore: building codec: %w", err)
	}

	durable := durabletier.NewPostgresStore(&durabletier.Config{
		Host: cfg.DurableTier.Host, Port: cfg.DurableTier.Port, Database: cfg.DurableTier.Database,
		User: cfg.DurableTier.User, Password: cfg.DurableTier.Password, SSLMode: cfg.DurableTier.SSLMode,
		MaxConns: cfg.DurableTier.MaxConns, MinConns: cfg.DurableTier.MinConns,
		MaxConnLifetime: cfg.DurableTier.MaxConnLifetime, MaxConnIdleTime: cfg.DurableTier.MaxConnIdleTime,
		HealthCheckPeriod: cfg.DurableTier.HealthCheckPeriod, ConnectTimeout: cfg.DurableTier.ConnectTimeout,
		DocumentCacheTTL: 5 * time.Second,
		RetryBaseDelay:   cfg.Resilience.RetryBaseDelay,
		RetryMaxDelay:    cfg.Resilience.RetryBaseDelay * time.Duration(cfg.Resilience.MaxRetries+1),
		RetryMultiplier:  cfg.Resilience.RetryMultiplier,
		MaxRetries:       cfg.Resilience.MaxRetries,
	}, codec, log, reg.Retry())

	brkCfg := breaker.DefaultConfig()
	brkCfg.CallTimeout = cfg.Resilience.OperationTimeout
	brk := breaker.New("durable-tier", brkCfg, log, reg)

	locks := locktable.New(0, cfg.TTL.LockTtl)

	var q orchestrator.QueueAdapter
	var orch *orchestrator.Orchestrator
	if cfg.EnableWriteBehind {
		q = queue.New(queue.DefaultConfig(), func(ctx context.Context, payload orchestrator.QueueJobPayload) error {
			return orch.PersistQueuedJob(ctx, payload)
		}, log)
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.DefaultTTL = cfg.TTL.DefaultTtl
	orchCfg.EnableWriteBehind = cfg.EnableWriteBehind
	orchCfg.ReconcilerConfig = reconciler.DefaultConfig()
	orchCfg.ReconcilerMetrics = reg.Reconciler()

	orch = orchestrator.New(orchCfg, fast, durable, brk, locks, q, reg.Orchestrator(), log)

	return &app{cfg: cfg, logger: log, reg: reg, fast: fast, durable: durable, brk: brk, locks: locks, orch: orch}, nil
}

// buildCodec maps config.Config's security section onto a durabletier.Codec.
func buildCodec(cfg *config.Config) (*durabletier.Codec, error) {
	opts := durabletier.CodecOptions{
		Encryption:  durabletier.EncryptionNone,
		Compression: durabletier.CompressionNone,
	}
	if cfg.Security.EnableEncryption {
		key, err := hex.DecodeString(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("authstore: master_key is not valid hex: %w", err)
		}
		opts.MasterKey = key
		switch cfg.Security.EncryptionAlgorithm {
		case config.EncryptionAES256GCM:
			opts.Encryption = durabletier.EncryptionAES256GCM
		case config.EncryptionAEADSecretbox:
			opts.Encryption = durabletier.EncryptionAEADSecretbox
		default:
			opts.Encryption = durabletier.EncryptionAES256GCM
		}
	}
	if cfg.Security.EnableCompression {
		switch cfg.Security.CompressionAlgorithm {
		case config.CompressionGzip:
			opts.Compression = durabletier.CompressionGzip
		case config.CompressionSnappy:
			opts.Compression = durabletier.CompressionSnappy
		default:
			opts.Compression = durabletier.CompressionGzip
		}
	}
	return durabletier.NewCodec(opts)
}

// connect finishes wiring: the fast tier already connected during
// construction (NewRedisStore pings eagerly), so only the durable
// tier's pool needs an explicit Connect call here.
func (a *app) connect(ctx context.Context) error {
	return a.orch.Connect(ctx, nil, func(ctx context.Context) error {
		return a.durable.(*durabletier.PostgresStore).Connect(ctx)
	})
}

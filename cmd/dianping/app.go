package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Eklps/Dianping/internal/asyncqueue"
	"github.com/Eklps/Dianping/internal/cache"
	"github.com/Eklps/Dianping/internal/config"
	"github.com/Eklps/Dianping/internal/idgen"
	"github.com/Eklps/Dianping/internal/lock"
	"github.com/Eklps/Dianping/internal/logging"
	"github.com/Eklps/Dianping/internal/queue"
	"github.com/Eklps/Dianping/internal/seckill"
	"github.com/Eklps/Dianping/internal/service"
	"github.com/Eklps/Dianping/internal/store"
)

// loadConfig applies defaults, the config file, environment and finally the
// flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("pg-dsn") {
		cfg.Postgres.DSN = pgDSN
	}
	if cmd.Flags().Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Daemon.LogLevel = f.Value.String()
		cfg.Observability.Logging.Level = f.Value.String()
	}
	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	return cfg, nil
}

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	redis    *store.RedisStore
	pg       *store.PostgresStore
	pool     *asyncqueue.Pool
	backend  cache.Cache
	stream   *queue.Stream
	engine   *cache.Client
	shops    *service.ShopService
	vouchers *service.VoucherService
	seckill  *seckill.Service
}

// newApp connects to Redis and Postgres and builds the services. The rebuild
// pool is started here and stopped by close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	rs, err := store.NewRedisStore(ctx, store.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		rs.Close()
		return nil, err
	}

	client := rs.Client()
	backend, err := cache.NewBackend(cfg.Cache.Backend, client, "")
	if err != nil {
		pg.Close()
		rs.Close()
		return nil, err
	}
	if cfg.Cache.Backend == cache.BackendMemory {
		logging.Op().Warn("using in-process cache backend; entries are not shared between instances")
	}

	pool := asyncqueue.New(asyncqueue.Config{
		Name:      "cache.rebuild",
		Workers:   cfg.Cache.RebuildWorkers,
		QueueSize: cfg.Cache.RebuildQueue,
	})
	pool.Start()

	engine := cache.NewClient(backend, lock.NewClient(client), pool, cache.Config{
		NullTTL:       cfg.Cache.NullTTL,
		LockTTL:       cfg.Cache.LockTTL,
		RetryInterval: cfg.Cache.RetryInterval,
		MaxRetries:    cfg.Cache.MaxRetries,
	})
	admit := seckill.NewAdmission(client, idgen.New(client), seckill.AdmissionConfig{
		Stream:      cfg.Seckill.Stream,
		OrderPrefix: cfg.Seckill.OrderPrefix,
	})

	return &app{
		cfg:      cfg,
		redis:    rs,
		pg:       pg,
		pool:     pool,
		backend:  backend,
		stream:   queue.NewStream(client, cfg.Seckill.Stream, cfg.Seckill.Group),
		engine:   engine,
		shops:    service.NewShopService(engine, pg, cfg.Cache.ShopTTL),
		vouchers: service.NewVoucherService(client, engine, pg),
		seckill:  seckill.NewService(engine, pg, admit, cfg.Cache.VoucherTTL),
	}, nil
}

func (a *app) close() {
	a.pool.Stop()
	a.backend.Close()
	a.pg.Close()
	a.redis.Close()
}

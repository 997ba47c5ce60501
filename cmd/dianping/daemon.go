package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	dpgrpc "github.com/Eklps/Dianping/internal/grpc"
	"github.com/Eklps/Dianping/internal/logging"
	"github.com/Eklps/Dianping/internal/metrics"
	"github.com/Eklps/Dianping/internal/observability"
	"github.com/Eklps/Dianping/internal/seckill"
)

func daemonCmd() *cobra.Command {
	var (
		httpAddr  string
		grpcAddr  string
		logLevel  string // read through loadConfig
		workers   int
		consumer  string
		warmShops []int
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the order consumer daemon",
		Long:  "Drain the seckill order stream into Postgres and serve metrics and health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("grpc") {
				cfg.Daemon.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("workers") {
				cfg.Consumer.Workers = workers
			}
			if cmd.Flags().Changed("consumer") {
				cfg.Consumer.Name = consumer
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range warmShops {
				if err := a.shops.WarmUp(ctx, int64(id)); err != nil {
					logging.Op().Warn("shop warm-up failed", "shop", id, "error", err)
				}
			}

			orders := seckill.NewConsumer(a.stream, a.pg, seckill.ConsumerConfig{
				Name:            cfg.Consumer.Name,
				Workers:         cfg.Consumer.Workers,
				Block:           cfg.Consumer.Block,
				RecoveryBackoff: cfg.Consumer.RecoveryBackoff,
				ClaimIdle:       cfg.Consumer.ClaimIdle,
			})
			if err := orders.Start(ctx); err != nil {
				return fmt.Errorf("start order consumer: %w", err)
			}
			defer orders.Stop()

			health := dpgrpc.NewHealthServer(map[string]dpgrpc.Pinger{
				"redis":    a.redis,
				"postgres": a.pg,
			}, 5*time.Second)
			if err := health.Start(cfg.Daemon.GRPCAddr); err != nil {
				return fmt.Errorf("start gRPC health server: %w", err)
			}
			defer health.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.PrometheusHandler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				if err := a.engine.Ping(r.Context()); err != nil {
					http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
					return
				}
				if err := a.pg.Ping(r.Context()); err != nil {
					http.Error(w, "postgres: "+err.Error(), http.StatusServiceUnavailable)
					return
				}
				w.Write([]byte("ok"))
			})
			httpServer := &http.Server{
				Addr:              cfg.Daemon.HTTPAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logging.Op().Info("HTTP server started", "addr", cfg.Daemon.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logging.Op().Info("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})

			logging.Op().Info("dianping daemon started",
				"stream", cfg.Seckill.Stream,
				"group", cfg.Seckill.Group,
				"consumer", cfg.Consumer.Name,
				"workers", cfg.Consumer.Workers)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8081", "HTTP address for /metrics and /healthz")
	cmd.Flags().StringVar(&grpcAddr, "grpc", ":9091", "gRPC health address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().IntVar(&workers, "workers", 1, "Order consumer identities to run")
	cmd.Flags().StringVar(&consumer, "consumer", "c1", "Consumer identity within the group")
	cmd.Flags().IntSliceVar(&warmShops, "warm-shop", nil, "Shop IDs to warm into the cache at startup")

	return cmd
}

// Package cli implements the process entry surface: flag parsing, config
// loading, full dependency wiring, and process lifecycle.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vnavascues/substrate-watcher/internal/chainclient"
	"github.com/vnavascues/substrate-watcher/internal/config"
	"github.com/vnavascues/substrate-watcher/internal/controller"
	"github.com/vnavascues/substrate-watcher/internal/domain"
	"github.com/vnavascues/substrate-watcher/internal/storage/postgres"
	"github.com/vnavascues/substrate-watcher/internal/worker"
	"github.com/vnavascues/substrate-watcher/internal/writer"
)

// Process exit codes.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitStorageError  = 2
	exitFatalRuntime  = 3
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "subwatcher",
	Short: "Substrate chain indexing service",
	Long:  `subwatcher walks Substrate-based chains, filters extrinsics against watched accounts, and persists matches for a portfolio manager to query.`,
	Run:   runService,
}

// Execute runs the CLI. Subcommands set their own exit codes via os.Exit;
// if cobra itself returns an error (e.g. an unknown flag), Execute exits
// with exitFatalRuntime.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitFatalRuntime)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

func initLogging(cfg *config.AppConfig) {
	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

// decodeStub is the seam for the external SCALE-decode collaborator:
// production deployments inject a real decoder built against the target
// chain's runtime metadata; nothing in this service performs SCALE
// decoding itself.
func decodeStub(ctx context.Context, block *chainclient.RawBlock, rawEvents []byte) ([]domain.RawExtrinsic, map[uint32][]domain.RawEvent, error) {
	return nil, nil, fmt.Errorf("subwatcher: no SCALE decoder configured for this deployment")
}

func runService(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("failed to load config", "error", err)
		os.Exit(exitConfigError)
	}
	initLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, postgres.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(exitStorageError)
	}
	defer db.Close()

	checkpoints := postgres.NewCheckpointRepo(db)
	extrinsics := postgres.NewExtrinsicRepo(db)
	staking := postgres.NewStakingRepo(db)
	uow := postgres.NewUnitOfWork(db)

	var resume worker.PendingRangeStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to parse redis url", "error", err)
			os.Exit(exitConfigError)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(exitStorageError)
		}
		defer rdb.Close()
		resume = worker.NewRedisPendingRangeStore(rdb)
	}

	chains := make(map[domain.ChainID]controller.ChainResources, len(cfg.Chains))
	var closers []func() error
	for _, cc := range cfg.Chains {
		provider := chainclient.NewHTTPProvider(cc.RPCURL)
		client := chainclient.New(provider, chainclient.Config{
			Chain:           cc.ID,
			ConnectionPool:  cc.ConnectionPool,
			RateLimitBurst:  chainclient.DefaultConfig().RateLimitBurst,
			RateLimitPerSec: chainclient.DefaultConfig().RateLimitPerSec,
			CacheSize:       chainclient.DefaultConfig().CacheSize,
			Retry: chainclient.RetryConfig{
				MaxAttempts: cc.RetryMaxAttempts,
				BaseDelay:   cc.RetryBaseDelay,
				MaxDelay:    cc.RetryMaxDelay,
			},
		})
		closers = append(closers, client.Close)
		chains[cc.ID] = controller.ChainResources{
			Client: client,
			Decode: decodeStub,
			Cfg: domain.Chain{
				ID:            cc.ID,
				GenesisHash:   cc.GenesisHash,
				TokenDecimals: cc.TokenDecimals,
				SS58Prefix:    cc.SS58Prefix,
				FinalityDepth: cc.FinalityDepth,
			},
			Finality:         cc.FinalityDepth,
			WindowSize:       cc.WindowSize,
			FetchParallelism: cc.FetchParallelism,
			HeartbeatBlocks:  cc.HeartbeatBlocks,
			HeartbeatPeriod:  cc.HeartbeatPeriod,
			RetryMaxAttempts: cc.RetryMaxAttempts,
			RetryBaseDelay:   cc.RetryBaseDelay,
			RetryMaxDelay:    cc.RetryMaxDelay,
		}
	}
	defer func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}()

	out := make(chan worker.WriteBatch, firstNonZero(cfg.Chains, 1024))
	w := writer.New(writer.Config{
		In:         out,
		Extrinsics: extrinsics,
		Staking:    staking,
		UnitOfWork: uow,
		Logger:     slog.Default(),
	})

	registry := controller.NewRegistry(controller.Deps{
		Chains:      chains,
		Checkpoints: checkpoints,
		Resume:      resume,
		Out:         out,
		Logger:      slog.Default(),
	})

	server := controller.NewServer(registry, w, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	httpSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
	})
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: metricsMux}

	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("writer stopped", "error", err)
		}
	}()
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("websocket server failed", "error", err)
			os.Exit(exitFatalRuntime)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	slog.Info("subwatcher started", "listen", cfg.Server.ListenAddr, "metrics_port", cfg.Server.MetricsPort, "chains", len(chains))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	cancel()
}

func firstNonZero(chains []config.ChainConfig, fallback int) int {
	for _, c := range chains {
		if c.WriterQueueSize > 0 {
			return c.WriterQueueSize
		}
	}
	return fallback
}

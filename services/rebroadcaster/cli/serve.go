package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/delegate-rebroadcast/internal/capacity"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/kafka"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/postgres"
	redisstore "github.com/ramiqadoumi/delegate-rebroadcast/internal/redis"
	"github.com/ramiqadoumi/delegate-rebroadcast/internal/selection"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/retry"
	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/telemetry"
	"github.com/ramiqadoumi/delegate-rebroadcast/services/rebroadcaster"
	"github.com/ramiqadoumi/delegate-rebroadcast/services/rebroadcaster/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rebroadcast scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("otel-sample-ratio", 1, "fraction of ticks traced")
	serveCmd.Flags().String("tick-schedule", "@every 5s", "cron spec for the scan cadence, measured from the end of the previous tick")
	serveCmd.Flags().Int("scan-limit", 500, "ready tasks read per scan page; a tick pages until the queue is exhausted")
	serveCmd.Flags().Int("tick-concurrency", 1, "tasks processed in parallel within one tick")
	serveCmd.Flags().Int("broadcast-rate-limit", 0, "per-account broadcasts per second across replicas; 0 disables")
	serveCmd.Flags().String("broadcast-topic", kafka.TopicBroadcast, "Kafka topic receiving task offers")
	serveCmd.Flags().String("response-topic", kafka.TopicResponses, "Kafka topic receiving task failures")
	serveCmd.Flags().Bool("resource-filtering", false, "deliver only to healthy delegates with spare capacity, least loaded first")
	serveCmd.Flags().Duration("heartbeat-stale-after", 2*time.Minute, "treat delegates without a heartbeat for this long as unhealthy; 0 disables")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("otel_sample_ratio", serveCmd.Flags(), "otel-sample-ratio")
	bindFlag("tick_schedule", serveCmd.Flags(), "tick-schedule")
	bindFlag("scan_limit", serveCmd.Flags(), "scan-limit")
	bindFlag("tick_concurrency", serveCmd.Flags(), "tick-concurrency")
	bindFlag("broadcast_rate_limit", serveCmd.Flags(), "broadcast-rate-limit")
	bindFlag("broadcast_topic", serveCmd.Flags(), "broadcast-topic")
	bindFlag("response_topic", serveCmd.Flags(), "response-topic")
	bindFlag("resource_filtering", serveCmd.Flags(), "resource-filtering")
	bindFlag("heartbeat_stale_after", serveCmd.Flags(), "heartbeat-stale-after")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}
	schedule, _ := cfg.Schedule()
	instanceID := "rebroadcaster-" + uuid.New().String()[:8]
	logger := buildLogger(cfg.LogLevel, cfg.LogFile, "rebroadcaster").
		With(slog.String("instance_id", instanceID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "rebroadcaster", cfg.OTelEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	pool, rdb, err := connect(cfg.PostgresDSN, cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer func() { _ = rdb.Close() }()

	producer := kafka.NewProducer(cfg.Brokers())
	defer func() { _ = producer.Close() }()

	repo := postgres.NewRepository(pool)
	broadcastLog := redisstore.NewBroadcastLog(rdb)

	var sink rebroadcaster.BroadcastSink = kafka.NewBroadcastSink(producer, cfg.BroadcastTopic)
	if cfg.ResourceFiltering {
		registry := capacity.NewRegistry(
			postgres.NewCapacityRepository(pool),
			redisstore.NewCapacityCache(rdb, 5*time.Minute),
			logger,
		)
		counts := redisstore.NewAssignedCountCache(rdb, repo, 10*time.Second)
		selector := selection.NewSelector(registry, counts,
			selection.Default(func() time.Time { return time.Now().UTC() }, cfg.HeartbeatStaleAfter))
		sink = rebroadcaster.NewFilteringSink(sink, postgres.NewDelegateRepository(pool), selector, logger)
	}

	escalator := rebroadcaster.NewFailureEscalator(
		repo, kafka.NewResponseReporter(producer, cfg.ResponseTopic), broadcastLog, logger)

	opts := []rebroadcaster.Option{
		rebroadcaster.WithLogger(logger),
		rebroadcaster.WithSchedule(schedule),
		rebroadcaster.WithScanLimit(cfg.ScanLimit),
		rebroadcaster.WithConcurrency(cfg.TickConcurrency),
		rebroadcaster.WithRecorder(broadcastLog),
	}
	if cfg.BroadcastRateLimit > 0 {
		opts = append(opts, rebroadcaster.WithRateLimiter(
			redisstore.NewRateLimiter(rdb, cfg.BroadcastRateLimit, time.Second)))
	}
	sched := rebroadcaster.NewScheduler(repo, sink, escalator, opts...)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, func(ctx context.Context) error {
		return errors.Join(pool.Ping(ctx), rdb.Ping(ctx).Err())
	}, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("rebroadcaster starting",
		slog.String("tick_schedule", cfg.TickSchedule),
		slog.Int("scan_limit", cfg.ScanLimit),
		slog.Int("tick_concurrency", cfg.TickConcurrency),
		slog.Bool("resource_filtering", cfg.ResourceFiltering),
	)
	sched.Run(runCtx)
	logger.Info("stopped")
	return nil
}

// connect waits for Postgres and Redis, which often start alongside us.
func connect(dsn, redisAddr string, logger *slog.Logger) (*pgxpool.Pool, *goredis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := retry.Config{
		MaxAttempts: 6,
		Backoff:     retry.Fibonacci(time.Second),
		OnRetry: func(attempt int, err error) {
			logger.Warn("dependency not ready, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}

	var pool *pgxpool.Pool
	if err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		p, err := postgres.NewPool(attemptCtx, dsn)
		pool = p
		return err
	}); err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}

	rdb := redisstore.NewClient(redisAddr)
	if err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return pool, rdb, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/eleven-am/pondchat/broker"
	"github.com/eleven-am/pondchat/broker/distributed"
	"github.com/eleven-am/pondchat/config"
	"github.com/eleven-am/pondchat/metrics"
)

type brokerOptions struct {
	addr      string
	jwtSecret string
	redisURL  string
}

func buildBrokerCmd(global *globalOptions) *cobra.Command {
	opts := &brokerOptions{}

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the development STOMP broker",
		Long: `Run a STOMP-over-WebSocket broker that serves the chat routes.

With --jwt-secret every CONNECT must carry a token signed with that secret.
With --redis-url several brokers share rooms through Redis pub/sub.
Prometheus metrics are served on the configured metrics path.`,
		Example: `  # Local broker without authentication
  pondchat broker

  # Two nodes sharing rooms
  pondchat broker --addr :8080 --redis-url redis://localhost:6379/0 --jwt-secret dev
  pondchat broker --addr :8081 --redis-url redis://localhost:6379/0 --jwt-secret dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			opts.apply(&cfg.Broker)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBroker(ctx, cfg.Broker, logger)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.jwtSecret, "jwt-secret", os.Getenv("PONDCHAT_JWT_SECRET"), "HS256 secret for CONNECT authentication")
	cmd.Flags().StringVar(&opts.redisURL, "redis-url", "", "Redis URL for multi-node fan-out")

	return cmd
}

func (o *brokerOptions) apply(c *config.BrokerConfig) {
	if o.addr != "" {
		c.Addr = o.addr
	}
	if o.jwtSecret != "" {
		c.JWTSecret = o.jwtSecret
	}
	if o.redisURL != "" {
		c.RedisURL = o.redisURL
	}
}

// newBrokerHandler builds the broker and the mux serving it next to the
// metrics endpoint. The returned cleanup closes the broker and its Redis
// resources.
func newBrokerHandler(ctx context.Context, cfg config.BrokerConfig, registry *prometheus.Registry, logger *slog.Logger) (http.Handler, func(), error) {
	hooks := &broker.Hooks{Metrics: metrics.NewBroker(registry)}
	opts := cfg.Options(logger, hooks)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = client.Close() })

		pubsub, err := distributed.NewRedisPubSub(ctx, client, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = pubsub.Close() })
		opts.PubSub = pubsub
		logger.Info("using redis fan-out", "addr", redisOpts.Addr, "db", redisOpts.DB)
	}

	srv, err := broker.New(ctx, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = srv.Close() })

	mux := http.NewServeMux()
	mux.Handle(opts.Path, srv)
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return mux, cleanup, nil
}

func runBroker(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler, cleanup, err := newBrokerHandler(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.JWTSecret == "" {
		logger.Warn("authentication disabled: every CONNECT is accepted")
	}
	logger.Info("broker listening", "addr", cfg.Addr, "path", cfg.Path, "metrics", cfg.MetricsPath)

	return broker.Serve(ctx, cfg.ServerOptions(), handler)
}

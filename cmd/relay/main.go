package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waypoint/internal/logger"
	"waypoint/internal/metrics"
	"waypoint/internal/redisbus"
	"waypoint/internal/relay"
)

func main() {
	_ = godotenv.Load()

	var (
		addr      string
		low       int
		redisAddr string
		mode      string
	)
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "In-memory development relay for waypoint clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger.New(mode)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := run(cmd.Context(), log, addr, low, redisAddr, mode); err != nil {
				log.Error("relay stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("WAYPOINT_RELAY_ADDR", ":8080"), "listen address")
	cmd.Flags().IntVar(&low, "low-watermark", relay.DefaultLowWatermark, "signal users with fewer one-time pre-keys than this")
	cmd.Flags().StringVar(&redisAddr, "redis", os.Getenv("WAYPOINT_REDIS_ADDR"), "redis address for low pre-key signals (optional)")
	cmd.Flags().StringVar(&mode, "log-mode", envOr("WAYPOINT_LOG_MODE", logger.DevelopmentMode), "development or production")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, addr string, low int, redisAddr, mode string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var notifier relay.Notifier
	if redisAddr != "" {
		client, err := redisbus.NewClient(ctx, redisbus.Config{Addr: redisAddr})
		if err != nil {
			return err
		}
		defer client.Close()
		notifier = redisbus.NewSignals(client, log)
		log.Info("publishing low pre-key signals to redis", zap.String("addr", redisAddr))
	}

	if mode == logger.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	hub := relay.NewHub(low, notifier, log, metrics.New(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           relay.NewServer(hub, log, reg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

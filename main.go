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

	raven "github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/EFForg/availability-backend/api"
	"github.com/EFForg/availability-backend/checker"
	"github.com/EFForg/availability-backend/config"
	"github.com/EFForg/availability-backend/db"
	"github.com/EFForg/availability-backend/janitor"
	"github.com/EFForg/availability-backend/logger"
	"github.com/EFForg/availability-backend/stats"
	"github.com/EFForg/availability-backend/util"
)

const shutdownTimeout = 10 * time.Second

// service is everything the daemon runs.
type service struct {
	server   *http.Server
	janitor  *janitor.Janitor
	database db.Database
}

func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*service, error) {
	addr, err := util.ValidPort(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := stats.NewMetrics(registry)

	deps := checker.Dependencies{Cache: database, Metrics: metrics}
	if cfg.ExtraRules.File != "" {
		deps.Rules, err = checker.LoadRules(cfg.ExtraRules.File)
		if err != nil {
			database.Close()
			return nil, err
		}
	}

	handlers := &api.API{
		Checker:        checker.New(cfg, deps, log),
		Sessions:       database,
		Gatherer:       registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            log,
	}
	return &service{
		server: &http.Server{
			Addr:              addr,
			Handler:           handlers.RegisterHandlers(http.NewServeMux()),
			ReadHeaderTimeout: 10 * time.Second,
		},
		janitor: &janitor.Janitor{
			Name:          database.GetName(),
			Store:         database,
			RetentionDays: cfg.DB.DaysBetweenDBClean,
			Log:           log,
		},
		database: database,
	}, nil
}

// run serves until ctx is done, then shuts the server down gracefully.
func (s *service) run(ctx context.Context, log logger.Logger) error {
	defer s.database.Close()

	go s.janitor.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", logger.String("addr", s.server.Addr), logger.String("db", s.database.GetName()))
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "availability-backend",
		Short:         "Serves single-subject availability checks over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
			if err != nil {
				return err
			}
			defer log.Sync()
			if cfg.Sentry.DSN != "" {
				if err := raven.SetDSN(cfg.Sentry.DSN); err != nil {
					return fmt.Errorf("sentry: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			svc, err := newService(ctx, cfg, log)
			if err != nil {
				return err
			}
			return svc.run(ctx, log)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

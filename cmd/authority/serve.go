package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/httpauthz"
)

func (e *env) serve(ctx context.Context, args []string) error {
	addr := e.cfg.AppAddr
	flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", addr, "listen address")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if e.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set to serve the admin API")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := e.authority(ctx, authority.Options{Registerer: registry})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      e.router(a, registry),
		ReadTimeout:  e.cfg.AppReadTimeout,
		WriteTimeout: e.cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("starting http server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	e.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func (e *env) router(a *authority.Authority, registry *prometheus.Registry) http.Handler {
	rbac := httpauthz.Middleware{
		Gate:   a,
		Users:  httpauthz.NewBearerTokens([]byte(e.cfg.JWTSecret), e.cfg.JWTIssuer, e.logger),
		Logger: e.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP, middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Method(http.MethodGet, e.cfg.ForbiddenPath, httpauthz.ForbiddenHandler())
	r.Route("/admin", httpauthz.NewAdminHandler(e.logger, a, rbac, e.cfg.RateLimitPerMinute).MountRoutes)
	return r
}

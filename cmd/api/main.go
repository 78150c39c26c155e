package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/api"
	"github.com/Ruvo-Inc/mailq/internal/config"
	"github.com/Ruvo-Inc/mailq/internal/store/driver"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := driver.Open(ctx, cfg)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID, middleware.Recoverer)
	rtr.Mount("/", api.NewHandler(st, cfg.EnvironmentTag, log).Router())

	srv := &http.Server{Addr: cfg.APIAddr, Handler: rtr}
	go func() {
		log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("environment", cfg.EnvironmentTag))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("api stopped")
}

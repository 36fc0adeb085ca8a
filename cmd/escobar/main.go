// Package main запускает HTTP-сервер сервиса учёта эскобаров.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/escobar-tracker/internal/config"
	"github.com/mmeshcher/escobar-tracker/internal/events"
	"github.com/mmeshcher/escobar-tracker/internal/handler"
	"github.com/mmeshcher/escobar-tracker/internal/middleware"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/service"
)

const limiterCleanupInterval = 10 * time.Minute

// store описывает хранилище, которое само доставляет изменения в брокер.
type store interface {
	service.Repository
	Listen(ctx context.Context) error
}

func openStore(cfg *config.Config, logger *zap.Logger) (store, error) {
	opts := repository.Options{MaxAttempts: cfg.TxMaxAttempts}
	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory store")
		return repository.NewMemoryRepository(opts), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI, opts)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := openStore(cfg, logger)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sugar.Infow("publishing ledger events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	svc := service.NewService(repo, publisher, logger, service.Config{
		PortalCode:     cfg.OfficerPortalCode,
		TokenSecret:    []byte(cfg.AuthSecret),
		TokenTTL:       cfg.OfficerTokenTTL,
		OfficerHandles: cfg.OfficerHandles,
	})
	defer svc.Close()

	if err := svc.BootstrapOfficers(context.Background()); err != nil {
		sugar.Fatalw("officer bootstrap error", "error", err.Error())
	}

	if cfg.OfficerPortalCode == "" {
		sugar.Warn("OFFICER_PORTAL_CODE is empty, officer login is disabled")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(cfg.LoginRateLimit, logger)
	h := handler.NewHandler(svc, logger, authMiddleware, limiter)

	r := h.SetupRouter()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// живые ленты завершаются вместе с приложением
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Доставка изменений хранилища в живые ленты
	g.Go(func() error {
		if err := repo.Listen(ctx); err != nil {
			return fmt.Errorf("change listener error: %w", err)
		}
		return nil
	})

	// Периодическая сверка балансов с журналами
	g.Go(func() error {
		return svc.StartReconciler(ctx, cfg.ReconcileSchedule)
	})

	g.Go(func() error {
		limiter.StartCleanup(ctx, limiterCleanupInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting escobar server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

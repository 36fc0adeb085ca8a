// Package main содержит административную утилиту сервиса учёта эскобаров:
// управление реестром офицеров и разовую сверку балансов.
//
// Использование:
//
//	escobar-admin -d <dsn> grant <handle>
//	escobar-admin -d <dsn> revoke <handle>
//	escobar-admin -d <dsn> reconcile
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/config"
	"github.com/mmeshcher/escobar-tracker/internal/events"
	"github.com/mmeshcher/escobar-tracker/internal/repository"
	"github.com/mmeshcher/escobar-tracker/internal/service"
)

var errUsage = errors.New("usage: escobar-admin [flags] grant <handle> | revoke <handle> | reconcile")

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("escobar-admin", flag.ContinueOnError)
	cfg, err := config.ParseFlags(fs, args)
	if err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	if cfg.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, repository.Options{MaxAttempts: cfg.TxMaxAttempts})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	svc := service.NewService(repo, events.NopPublisher{}, logger, service.Config{})
	defer svc.Close()

	switch rest[0] {
	case "grant", "revoke":
		if len(rest) != 2 {
			return errUsage
		}
		return setOfficer(ctx, svc, logger, rest[1], rest[0] == "grant")
	case "reconcile":
		drifts, err := svc.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		if len(drifts) > 0 {
			return fmt.Errorf("found %d accounts with balance drift", len(drifts))
		}
		logger.Info("ledger is consistent")
		return nil
	default:
		return errUsage
	}
}

func setOfficer(ctx context.Context, svc *service.Service, logger *zap.Logger, handle string, enabled bool) error {
	m, err := svc.FindMemberByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("find member %q: %w", handle, err)
	}
	if err := svc.SetOfficer(ctx, m.ID, enabled); err != nil {
		return fmt.Errorf("set officer %q: %w", handle, err)
	}
	logger.Info("officer registry updated",
		zap.String("handle", m.Handle),
		zap.String("memberID", m.ID),
		zap.Bool("enabled", enabled),
	)
	return nil
}

package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mmeshcher/escobar-tracker/internal/metrics"
	"github.com/mmeshcher/escobar-tracker/internal/model"
)

// Reconcile сверяет баланс каждого участника с суммой его журнала
// и возвращает расхождения. Хранилище при этом не меняется.
func (s *Service) Reconcile(ctx context.Context) ([]model.LedgerTotals, error) {
	totals, err := s.repo.LedgerTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger totals: %w", err)
	}

	var drifted []model.LedgerTotals
	for _, t := range totals {
		if t.Balance == t.LogSum {
			continue
		}
		drifted = append(drifted, t)
		s.logger.Error("ledger drift detected",
			zap.String("memberID", t.MemberID),
			zap.String("handle", t.Handle),
			zap.Int64("balance", t.Balance),
			zap.Int64("logSum", t.LogSum),
		)
	}

	metrics.SetDrift(len(drifted))
	s.logger.Info("ledger reconciled", zap.Int("members", len(totals)), zap.Int("drifted", len(drifted)))
	return drifted, nil
}

// StartReconciler запускает периодическую сверку по расписанию cron и блокируется до отмены ctx.
// Пустое расписание отключает сверку.
func (s *Service) StartReconciler(ctx context.Context, schedule string) error {
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.Reconcile(ctx); err != nil {
			s.logger.Error("reconcile failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}

	s.logger.Info("reconciler started", zap.String("schedule", schedule))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("reconciler stopped")
	return nil
}

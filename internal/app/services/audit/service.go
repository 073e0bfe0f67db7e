// Package audit periodically replays the ledger and reports balances that
// disagree with the transaction log.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/cardverse/token_layer/internal/app/metrics"
	ledgersvc "github.com/cardverse/token_layer/internal/app/services/ledger"
	"github.com/cardverse/token_layer/internal/app/system"
	"github.com/cardverse/token_layer/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the audit every five minutes.
const DefaultSchedule = "@every 5m"

// Auditor produces a ledger audit report.
type Auditor interface {
	Audit(ctx context.Context) (ledgersvc.AuditReport, error)
}

// Service runs the auditor on a cron schedule.
type Service struct {
	auditor  Auditor
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	last    ledgersvc.AuditReport
	lastErr error
	runs    int
}

var _ system.Service = (*Service)(nil)

// New constructs an audit service. An empty schedule uses DefaultSchedule.
func New(auditor Auditor, schedule string, log *logger.Logger) *Service {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = logger.NewDefault("ledger-audit")
	}
	return &Service{auditor: auditor, schedule: schedule, log: log}
}

func (s *Service) Name() string { return "ledger-audit" }

// Start schedules the audit. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { _, _ = s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid audit schedule %q: %w", s.schedule, err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Infof("ledger audit scheduled (%s)", s.schedule)
	return nil
}

// Stop halts the schedule and waits for an in-flight audit to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel, s.running = nil, nil, false
	s.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("ledger audit stopped")
	return nil
}

// RunOnce audits immediately and records the outcome.
func (s *Service) RunOnce(ctx context.Context) (ledgersvc.AuditReport, error) {
	report, err := s.auditor.Audit(ctx)
	metrics.RecordAuditRun(len(report.Violations), err)

	s.mu.Lock()
	s.last, s.lastErr = report, err
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Warn("ledger audit failed")
		return report, err
	}
	if !report.Clean() {
		for _, v := range report.Violations {
			s.log.WithField("user_id", v.UserID).
				WithField("stored", v.Stored).
				WithField("computed", v.Computed).
				Errorf("ledger invariant violated: %s", v.Reason)
		}
		return report, nil
	}
	s.log.WithField("users", report.Users).
		WithField("transactions", report.Transactions).
		Debug("ledger audit clean")
	return report, nil
}

// LastReport returns the most recent report, how many audits have run and
// the error of the most recent run.
func (s *Service) LastReport() (ledgersvc.AuditReport, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs, s.lastErr
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/compliance"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/logger"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/models"
	"github.com/cryptocoledotcom/fastrack-driving-school-lms-sub000/internal/repository"
)

const (
	staleSessionBatchSize = 500
	auditPurgeBatchSize   = 1000
	// Batches deleted per run at most.
	auditPurgeMaxBatches = 100
)

type auditPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// MaintenanceScheduler runs the periodic compliance housekeeping: closing
// sessions that went silent and purging audit entries past retention.
type MaintenanceScheduler struct {
	store    txRunner
	audits   auditPurger
	audit    auditRecorder
	interval time.Duration
	log      *logger.Logger
	now      Clock
}

func NewMaintenanceScheduler(store txRunner, audits auditPurger, audit auditRecorder, interval time.Duration, log *logger.Logger) *MaintenanceScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &MaintenanceScheduler{
		store:    store,
		audits:   audits,
		audit:    audit,
		interval: interval,
		log:      log.With("component", "maintenance"),
		now:      systemClock,
	}
}

// Run blocks until ctx is cancelled.
func (s *MaintenanceScheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.SweepStaleSessions)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.PurgeExpiredAudit)
	}()
	s.log.Info("maintenance scheduler started", "interval", s.interval.String())
	wg.Wait()
	return nil
}

func (s *MaintenanceScheduler) loop(ctx context.Context, runFn func(ctx context.Context, now time.Time)) {
	// Run on startup as well as by interval.
	runFn(ctx, s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runFn(ctx, s.now())
		}
	}
}

// SweepStaleSessions moves active sessions with no heartbeat inside the idle
// window to idle_timeout. No minutes were credited while they were silent,
// so the ledger is left untouched.
func (s *MaintenanceScheduler) SweepStaleSessions(ctx context.Context, now time.Time) {
	cutoff := now.Add(-compliance.IdleTimeout)

	var swept []models.Session
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		sessions, err := tx.LockStaleSessions(ctx, cutoff, staleSessionBatchSize)
		if err != nil {
			return err
		}
		for _, session := range sessions {
			if err := tx.SetSessionStatus(ctx, session.ID, compliance.SessionIdleTimeout, now); err != nil {
				return err
			}
		}
		swept = sessions
		return nil
	})
	if err != nil {
		s.log.Error("stale session sweep failed", "error", err)
		return
	}

	for _, session := range swept {
		s.audit.Record(ctx, AuditEvent{
			UserID:     session.UserID,
			Action:     compliance.ActionSessionIdleTimeout,
			Resource:   compliance.ResourceSession,
			ResourceID: session.ID,
			Status:     compliance.StatusSuccess,
			Metadata: map[string]interface{}{
				"courseId":           session.CourseID,
				"lastHeartbeatAt":    session.LastHeartbeatAt,
				"idleMinutes":        int(now.Sub(session.LastHeartbeatAt) / time.Minute),
				"source":             "sweeper",
				"idleTimeoutMinutes": compliance.IdleTimeoutMinutes,
			},
		})
	}
	if len(swept) > 0 {
		s.log.Info("stale sessions closed", "count", len(swept))
	}
}

// PurgeExpiredAudit deletes audit entries whose retention window has closed,
// in batches, until a batch comes back short.
func (s *MaintenanceScheduler) PurgeExpiredAudit(ctx context.Context, now time.Time) {
	var total int64
	for i := 0; i < auditPurgeMaxBatches; i++ {
		n, err := s.audits.DeleteExpired(ctx, now, auditPurgeBatchSize)
		if err != nil {
			s.log.Error("audit retention purge failed", "error", err, "deleted", total)
			return
		}
		total += n
		if n < auditPurgeBatchSize {
			break
		}
	}
	if total > 0 {
		s.log.Info("expired audit entries purged", "deleted", total)
	}
}

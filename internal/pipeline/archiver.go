// Package pipeline runs the background jobs that sit beside the API.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Archiver moves ledger history older than the retention window to cold
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archive_job")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Cutoff is the start of the retention window.
func (a *Archiver) Cutoff() time.Time {
	return a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive run over transactions and the audit log.
// Both kinds are attempted; their failures are joined.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	txArchived, txErr := a.blobArchiver.ArchiveTransactions(ctx, cutoff)
	if txErr != nil {
		txErr = fmt.Errorf("archiving transactions before %v: %w", cutoff, txErr)
	}
	auditArchived, auditErr := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if auditErr != nil {
		auditErr = fmt.Errorf("archiving audit log before %v: %w", cutoff, auditErr)
	}
	if err := errors.Join(txErr, auditErr); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("transactions_archived", txArchived),
		slog.Int64("audit_archived", auditArchived),
	)
	return nil
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. Failed runs are logged and retried at the next trigger.
//
// Example: "0 3 1 * *" runs at 3:00 AM UTC on the 1st of every month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.now())
		if err != nil {
			return err
		}
		wait := next.Sub(a.now())
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return nil
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

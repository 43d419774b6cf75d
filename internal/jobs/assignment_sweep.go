package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"mixfleet/internal/app/dispatcher"
	"mixfleet/internal/shared/logger"
)

// AssignmentSweepJob periodically drains the pending-order backlog.
// The broker-driven paths normally keep the backlog empty; the sweep
// covers lost messages and orders placed while the fleet was busy.
type AssignmentSweepJob struct {
	svc    *dispatcher.Service
	cron   *cron.Cron
	logger *logger.Logger
}

func NewAssignmentSweepJob(svc *dispatcher.Service, log *logger.Logger) *AssignmentSweepJob {
	return &AssignmentSweepJob{
		svc:    svc,
		cron:   cron.New(cron.WithSeconds()),
		logger: log,
	}
}

// Start schedules the sweep every intervalSeconds and runs one sweep
// immediately so a restart drains the backlog without waiting.
func (j *AssignmentSweepJob) Start(ctx context.Context, intervalSeconds int) error {
	spec := fmt.Sprintf("*/%d * * * * *", intervalSeconds)
	_, err := j.cron.AddFunc(spec, func() { j.sweep(ctx) })
	if err != nil {
		return err
	}

	j.sweep(ctx)
	j.cron.Start()
	j.logger.Info(ctx, "sweep_started", "Assignment sweep scheduled", map[string]any{
		"interval_seconds": intervalSeconds,
	})
	return nil
}

func (j *AssignmentSweepJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *AssignmentSweepJob) sweep(ctx context.Context) {
	assigned, err := j.svc.Reconcile(ctx)
	if err != nil {
		j.logger.Error(ctx, "sweep_failed", "Assignment sweep failed", err)
		return
	}
	if assigned > 0 {
		j.logger.Info(ctx, "sweep_assigned", "Assignment sweep paired orders", map[string]any{
			"count": assigned,
		})
	}
}

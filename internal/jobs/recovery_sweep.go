package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"mixfleet/internal/app/simulator"
	"mixfleet/internal/shared/logger"
)

// RecoverySweepJob periodically re-derives simulator units from the
// database so a crashed process picks its trucks back up mid-cycle.
type RecoverySweepJob struct {
	svc    *simulator.Service
	cron   *cron.Cron
	logger *logger.Logger
}

func NewRecoverySweepJob(svc *simulator.Service, log *logger.Logger) *RecoverySweepJob {
	return &RecoverySweepJob{
		svc:    svc,
		cron:   cron.New(cron.WithSeconds()),
		logger: log,
	}
}

// Start runs one recovery pass immediately, then every intervalSeconds.
func (j *RecoverySweepJob) Start(ctx context.Context, intervalSeconds int) error {
	spec := fmt.Sprintf("*/%d * * * * *", intervalSeconds)
	_, err := j.cron.AddFunc(spec, func() { j.sweep(ctx) })
	if err != nil {
		return err
	}

	j.sweep(ctx)
	j.cron.Start()
	j.logger.Info(ctx, "recovery_started", "Recovery sweep scheduled", map[string]any{
		"interval_seconds": intervalSeconds,
	})
	return nil
}

func (j *RecoverySweepJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *RecoverySweepJob) sweep(ctx context.Context) {
	if err := j.svc.Reconcile(ctx); err != nil {
		j.logger.Error(ctx, "recovery_failed", "Recovery sweep failed", err)
	}
}

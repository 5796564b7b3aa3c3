package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"MailScheduler/internal/errors"
	"MailScheduler/internal/metrics"
)

// Auditor periodically counts pending jobs whose scheduled time passed while
// no timer was armed for them, usually because the process was down.
type Auditor struct {
	s *Scheduler
	c *cron.Cron
}

// NewAuditor parses spec with the standard cron syntax plus descriptors
// such as "@every 5m".
func NewAuditor(s *Scheduler, spec string) (*Auditor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "parse audit schedule %q", spec)
	}

	a := &Auditor{s: s, c: cron.New(cron.WithParser(parser))}
	a.c.Schedule(sched, cron.FuncJob(func() {
		if _, err := a.Run(context.Background()); err != nil {
			s.log.Error("missed job audit failed", zap.Error(err))
		}
	}))
	return a, nil
}

func (a *Auditor) Start() { a.c.Start() }

// Stop stops the cron and waits for a running audit to return.
func (a *Auditor) Stop() { <-a.c.Stop().Done() }

// Run performs one audit and returns the ids of missed jobs.
func (a *Auditor) Run(ctx context.Context) ([]string, error) {
	due, err := a.s.store.ListPendingDue(ctx, a.s.now())
	if err != nil {
		return nil, errors.Wrap(err, "list due jobs")
	}

	var missed []string
	for _, job := range due {
		if !a.s.tracked(job.ID) {
			missed = append(missed, job.ID)
		}
	}

	metrics.MissedJobs.Set(float64(len(missed)))
	if len(missed) > 0 {
		a.s.log.Warn("pending jobs missed their scheduled time",
			zap.Int("count", len(missed)),
			zap.Strings("job_ids", missed),
		)
	}
	return missed, nil
}

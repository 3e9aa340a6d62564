package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler fires the recalibration sweep on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// New registers job under spec ("@every 6h", "0 3 * * *", ...). A run that
// is still going when the next one is due is skipped.
func New(spec string, job func()) (*Scheduler, error) {
	logger := cron.VerbosePrintfLogger(log.New(log.Writer(), "[scheduler] ", log.Flags()))
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[scheduler] sweep scheduled (%s)", s.spec)
}

// Stop halts the schedule and returns a context done when the running job
// (if any) has returned.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	log.Println("[scheduler] scheduler stopped")
	return ctx
}

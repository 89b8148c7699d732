package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"worker-host/src/shim"
)

// Scheduler fires the scheduled entrypoint on the WORKER_CRONS schedules.
type Scheduler struct {
	cron *cron.Cron
	shim *shim.Shim
	ctx  context.Context
}

func NewScheduler(sh *shim.Shim, specs []string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithLogger(cron.PrintfLogger(log.Default()))),
		shim: sh,
		ctx:  context.Background(),
	}
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, func() {
			s.Trigger(s.ctx, spec, time.Now().UTC())
		}); err != nil {
			return nil, fmt.Errorf("invalid cron %q: %w", spec, err)
		}
	}
	return s, nil
}

// Trigger calls the scheduled entrypoint once for spec.
func (s *Scheduler) Trigger(ctx context.Context, spec string, at time.Time) error {
	err := s.shim.Scheduled(ctx, &shim.ScheduledEvent{Cron: spec, ScheduledTime: at})
	if err != nil {
		log.Printf("scheduled %q at %s failed: %v", spec, at.Format(time.RFC3339), err)
	}
	return err
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the schedules and blocks until ctx is done, then waits for
// running triggers to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Len() == 0 {
		return nil
	}
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

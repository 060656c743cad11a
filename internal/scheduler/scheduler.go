// Package scheduler runs the periodic utilization alert sweep.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/utilpilot/utilization-service/internal/service"
)

// Scheduler owns the cron instance driving background jobs.
type Scheduler struct {
	cron *cron.Cron
	svc  *service.Service
	log  *logrus.Logger
}

// NewScheduler initializes a scheduler around the given service
func NewScheduler(svc *service.Service, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		svc:  svc,
		log:  log,
	}
}

// Start registers the alert sweep on the given cron schedule and starts
// the scheduler.
func (s *Scheduler) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.svc.AlertSweep(); err != nil {
			s.log.Errorf("Alert sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule alert sweep: %w", err)
	}
	s.cron.Start()
	s.log.Infof("Scheduled alert sweep: %s", schedule)
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

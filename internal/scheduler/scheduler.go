// Package scheduler runs the backend's periodic maintenance jobs, such as
// the daily usage summary, on cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named jobs on standard 5-field cron expressions.
type Scheduler struct {
	cron *cron.Cron
}

// cronLogger bridges robfig/cron's logging to the process-wide slog handler.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	slog.Debug("Scheduler: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	slog.Error("Scheduler: "+msg, append(kv, "error", err)...)
}

// NewScheduler creates and starts the scheduler. Panics in jobs are recovered
// and logged instead of taking the process down.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cronLogger{})))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a named task. The name identifies the job in logs; it
// returns an error when the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("Scheduler.AddJob: %s: %w", name, err)
	}
	slog.Info("Scheduler.AddJob: job scheduled", "job", name, "cron", expr)
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

package pipeline

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "inkcal/internal/log"
)

// cronLogger routes cron's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Scheduler runs Runner.RefreshOnce on a cron schedule. A tick that fires
// while the previous refresh is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

// NewScheduler parses spec (standard five-field cron) in the configured
// timezone. ctx is handed to every refresh.
func NewScheduler(ctx context.Context, spec string, r *Runner) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(r.Config.Location()),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	s := &Scheduler{cron: c, runner: r}

	_, err := c.AddFunc(spec, func() {
		if _, err := r.RefreshOnce(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

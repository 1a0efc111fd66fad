// Package scheduler runs snapshot jobs on clock-aligned schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-co-op/gocron/v2"
)

// JobFunc is the function signature for scheduled jobs
type JobFunc func(ctx context.Context) error

// Config holds scheduler configuration
type Config struct {
	Interval       string         // Duration (e.g. "1h") or cron expression (e.g. "0 */6 * * *")
	Timezone       *time.Location // Timezone for cron expressions, UTC by default
	RunImmediately bool           // Execute once before the first tick
	Logger         *slog.Logger
}

// RunStatus is the outcome of the most recent job execution
type RunStatus struct {
	FinishedAt time.Time
	Duration   time.Duration
	Err        error
}

// Scheduler runs one job on a gocron schedule. Executions never overlap: a
// tick that fires while a snapshot is still running is skipped.
type Scheduler struct {
	gocronScheduler gocron.Scheduler
	job             gocron.Job
	interval        string
	timezone        *time.Location
	runImmediately  bool
	logger          *slog.Logger

	mu   sync.RWMutex
	last RunStatus
}

var (
	// cronPattern matches cron expressions (5 or 6 fields)
	cronPattern = regexp.MustCompile(`^(\S+\s+){4,5}\S+$`)

	validSecondIntervals = map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 10: true, 12: true, 15: true, 20: true, 30: true}
	validMinuteIntervals = validSecondIntervals
	validHourIntervals   = map[int]bool{1: true, 2: true, 3: true, 4: true, 6: true, 8: true, 12: true, 24: true}
)

// NewScheduler creates a scheduler that calls jobFunc with ctx on every tick
func NewScheduler(ctx context.Context, cfg Config, jobFunc JobFunc) (*Scheduler, error) {
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cronExpr := cfg.Interval
	if !isCronExpression(cronExpr) {
		var err error
		if cronExpr, err = durationToCron(cfg.Interval); err != nil {
			return nil, errors.Wrap(err, "invalid interval")
		}
	}

	gs, err := gocron.NewScheduler(
		gocron.WithLocation(cfg.Timezone),
		gocron.WithLogger(cfg.Logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gocron scheduler")
	}

	s := &Scheduler{
		gocronScheduler: gs,
		interval:        cfg.Interval,
		timezone:        cfg.Timezone,
		runImmediately:  cfg.RunImmediately,
		logger:          cfg.Logger,
	}

	s.logger.Info("Snapshot schedule", "schedule", DescribeSchedule(cfg.Interval, cfg.Timezone))

	job, err := gs.NewJob(
		gocron.CronJob(cronExpr, len(strings.Fields(cronExpr)) == 6),
		gocron.NewTask(func() { s.execute(ctx, jobFunc) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduled job")
	}
	s.job = job

	return s, nil
}

func (s *Scheduler) execute(ctx context.Context, jobFunc JobFunc) {
	start := time.Now()
	err := jobFunc(ctx)
	status := RunStatus{FinishedAt: time.Now(), Duration: time.Since(start), Err: err}

	s.mu.Lock()
	s.last = status
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Job execution failed", "error", err, "duration", status.Duration)
		return
	}
	s.logger.Info("Job execution finished", "duration", status.Duration)
}

// Start begins the scheduler
func (s *Scheduler) Start() error {
	if s.runImmediately {
		s.logger.Info("Executing job immediately before starting scheduler")
		if err := s.job.RunNow(); err != nil {
			s.logger.Error("Immediate execution failed", "error", err)
		}
	}

	s.gocronScheduler.Start()

	if nextRun, err := s.NextRun(); err == nil {
		s.logger.Info("Scheduler started", "next_run", nextRun.Format(time.RFC3339), "timezone", s.timezone.String())
	} else {
		s.logger.Info("Scheduler started")
	}
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.gocronScheduler.Shutdown()
}

// NextRun returns the next scheduled run time
func (s *Scheduler) NextRun() (time.Time, error) {
	nextRun, err := s.job.NextRun()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to get next run")
	}
	return nextRun, nil
}

// LastStatus returns the outcome of the last execution; FinishedAt is zero
// before the first run.
func (s *Scheduler) LastStatus() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// ExpectedInterval is the nominal time between executions. Irregular cron
// expressions report a conservative 5 minutes.
func (s *Scheduler) ExpectedInterval() time.Duration {
	if d, err := time.ParseDuration(s.interval); err == nil {
		return d
	}
	return 5 * time.Minute
}

// isCronExpression checks if a string is a cron expression (vs duration)
func isCronExpression(s string) bool {
	return cronPattern.MatchString(s)
}

// durationToCron converts a duration string to a clock-aligned cron expression:
// "5m" -> "*/5 * * * *", "1h" -> "0 */1 * * *", "30s" -> "*/30 * * * * *"
func durationToCron(durationStr string) (string, error) {
	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return "", errors.Wrap(err, "invalid duration format")
	}

	switch {
	case duration < time.Minute:
		seconds := int(duration.Seconds())
		if !validSecondIntervals[seconds] || duration%time.Second != 0 {
			return "", errors.Errorf("second intervals must divide evenly into 60 (got %s)", durationStr)
		}
		return fmt.Sprintf("*/%d * * * * *", seconds), nil

	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if !validMinuteIntervals[minutes] || duration%time.Minute != 0 {
			return "", errors.Errorf("minute intervals must divide evenly into 60 (got %s)", durationStr)
		}
		return fmt.Sprintf("*/%d * * * *", minutes), nil

	case duration%time.Hour == 0:
		hours := int(duration.Hours())
		if !validHourIntervals[hours] {
			return "", errors.Errorf("hour intervals must divide evenly into 24 (got %s)", durationStr)
		}
		return fmt.Sprintf("0 */%d * * *", hours), nil

	default:
		return "", errors.Errorf("duration must be whole seconds, minutes, or hours (got %s)", durationStr)
	}
}

// ValidateScheduleInterval validates a schedule interval (duration or cron)
func ValidateScheduleInterval(interval string) error {
	if interval == "" {
		return nil
	}
	if isCronExpression(interval) {
		return nil
	}
	_, err := durationToCron(interval)
	return err
}

// DescribeSchedule provides a human-readable description of the schedule
func DescribeSchedule(interval string, timezone *time.Location) string {
	if timezone == nil {
		timezone = time.UTC
	}
	if isCronExpression(interval) {
		return fmt.Sprintf("cron: %s (%s)", interval, timezone.String())
	}
	duration, err := time.ParseDuration(interval)
	if err != nil {
		return fmt.Sprintf("invalid: %s", interval)
	}
	cronExpr, err := durationToCron(interval)
	if err != nil {
		return fmt.Sprintf("duration: %s (non-aligned)", interval)
	}
	return fmt.Sprintf("every %s (aligned to clock, cron: %s, %s)", duration, cronExpr, timezone.String())
}

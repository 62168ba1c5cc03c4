package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bastionhq/bastion/pkg/backend"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/storage"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultTickInterval is the cron evaluation period. Matching is
	// minute-granular, so one tick per minute is exactly enough.
	DefaultTickInterval = 60 * time.Second

	// executeTimeout bounds one job execution
	executeTimeout = 5 * time.Minute
)

// ErrJobRunning indicates a manual trigger landed while an execution of
// the same schedule was still in flight
var ErrJobRunning = errors.New("schedule execution already in flight")

// Backuper is the backup collaborator a backup schedule delegates to
type Backuper interface {
	CreateBackup(ctx context.Context, serverID, name string) (*types.Backup, error)
}

// job is one active schedule held in memory with its parsed expression
type job struct {
	schedule *types.Schedule
	expr     *Expression
	running  bool
}

// Scheduler evaluates active schedules against wall-clock time on a
// fixed tick and executes due jobs through the execution backend. A
// job whose execution outlives the tick interval is not started again
// until the running execution finishes.
type Scheduler struct {
	store   storage.Store
	exec    backend.Backend
	backups Backuper
	broker  *events.Broker
	logger  zerolog.Logger

	tickInterval time.Duration

	mu   sync.Mutex
	jobs map[string]*job

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config holds scheduler tunables. Zero values fall back to defaults.
type Config struct {
	TickInterval time.Duration
}

// NewScheduler creates a scheduler
func NewScheduler(store storage.Store, exec backend.Backend, backups Backuper, broker *events.Broker, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}

	return &Scheduler{
		store:        store,
		exec:         exec,
		backups:      backups,
		broker:       broker,
		logger:       log.WithComponent("scheduler"),
		tickInterval: cfg.TickInterval,
		jobs:         make(map[string]*job),
		stopCh:       make(chan struct{}),
	}
}

// Start loads all active schedules from the store and begins ticking.
// Schedules with unparseable cron expressions are skipped with a
// logged error rather than aborting startup.
func (s *Scheduler) Start() error {
	schedules, err := s.store.ListActiveSchedules()
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := s.AddJob(schedule); err != nil {
			s.logger.Error().Err(err).Str("schedule_id", schedule.ID).Msg("skipping unloadable schedule")
		}
	}

	s.logger.Info().Int("jobs", len(s.JobIDs())).Msg("scheduler started")
	metrics.UpdateComponent("scheduler", true, "tick loop running")
	go s.tickLoop()
	return nil
}

// Stop stops the tick loop. In-flight executions run to completion.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		metrics.UpdateComponent("scheduler", false, "stopped")
	})
}

// AddJob places a schedule in the active set. Inactive schedules are
// ignored; an existing job with the same ID is replaced.
func (s *Scheduler) AddJob(schedule *types.Schedule) error {
	if !schedule.IsActive {
		return nil
	}

	expr, err := ParseCron(schedule.Cron)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", schedule.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[schedule.ID] = &job{schedule: schedule, expr: expr}
	return nil
}

// RemoveJob drops a schedule from the active set immediately. An
// in-flight execution for the job runs to completion.
func (s *Scheduler) RemoveJob(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, scheduleID)
}

// UpdateJob re-adds an edited schedule if it is still active, and
// removes it if it was deactivated
func (s *Scheduler) UpdateJob(schedule *types.Schedule) error {
	if !schedule.IsActive {
		s.RemoveJob(schedule.ID)
		return nil
	}
	return s.AddJob(schedule)
}

// JobIDs returns the IDs of all schedules in the active set
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// ExecuteJob triggers a schedule immediately, outside its cron cadence.
// It takes the same per-job in-flight flag the tick uses, so a "run
// now" cannot overlap a tick-driven execution of the same schedule.
func (s *Scheduler) ExecuteJob(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	j, exists := s.jobs[scheduleID]
	if exists {
		if j.running {
			s.mu.Unlock()
			return fmt.Errorf("schedule %s: %w", scheduleID, ErrJobRunning)
		}
		j.running = true
	}
	s.mu.Unlock()

	if exists {
		defer func() {
			s.mu.Lock()
			j.running = false
			s.mu.Unlock()
		}()
		return s.execute(ctx, j.schedule)
	}

	// Manual triggers may target inactive schedules
	schedule, err := s.store.GetSchedule(scheduleID)
	if err != nil {
		return fmt.Errorf("failed to load schedule %s: %w", scheduleID, err)
	}
	return s.execute(ctx, schedule)
}

func (s *Scheduler) tickLoop() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// tick runs every due job in its own goroutine so one slow execution
// cannot delay siblings or the next tick. The per-job running flag
// prevents a second overlapping execution of the same job.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.expr.Matches(now) {
			continue
		}
		if j.running {
			s.logger.Warn().Str("schedule_id", j.schedule.ID).Msg("previous execution still running, skipping")
			continue
		}
		j.running = true
		due = append(due, j)
	}
	s.mu.Unlock()

	for _, j := range due {
		go func(j *job) {
			defer func() {
				s.mu.Lock()
				j.running = false
				s.mu.Unlock()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
			defer cancel()
			if err := s.execute(ctx, j.schedule); err != nil {
				s.logger.Error().Err(err).
					Str("schedule_id", j.schedule.ID).
					Str("server_id", j.schedule.ServerID).
					Msg("schedule execution failed")
			}
		}(j)
	}
}

// execute runs one schedule and records the outcome. Errors update
// last_error but leave the schedule active; the next cron match is the
// retry.
func (s *Scheduler) execute(ctx context.Context, schedule *types.Schedule) error {
	start := time.Now()
	err := s.dispatch(ctx, schedule)
	metrics.ScheduleRunDuration.Observe(time.Since(start).Seconds())

	schedule.LastRun = start
	schedule.UpdatedAt = time.Now()
	if err != nil {
		schedule.LastError = err.Error()
		metrics.ScheduleRunsTotal.WithLabelValues(string(schedule.Action), "error").Inc()
		if s.broker != nil {
			s.broker.Publish(events.New(events.EventScheduleFailed, err.Error(),
				map[string]string{"schedule_id": schedule.ID, "server_id": schedule.ServerID}))
		}
	} else {
		schedule.RunCount++
		schedule.LastError = ""
		metrics.ScheduleRunsTotal.WithLabelValues(string(schedule.Action), "success").Inc()
		if s.broker != nil {
			s.broker.Publish(events.New(events.EventScheduleRun, schedule.Name,
				map[string]string{"schedule_id": schedule.ID, "server_id": schedule.ServerID}))
		}
	}

	if updateErr := s.store.UpdateSchedule(schedule); updateErr != nil {
		s.logger.Error().Err(updateErr).Str("schedule_id", schedule.ID).Msg("failed to persist schedule bookkeeping")
	}
	return err
}

// dispatch routes a schedule to its action handler
func (s *Scheduler) dispatch(ctx context.Context, schedule *types.Schedule) error {
	switch schedule.Action {
	case types.ScheduleActionPower:
		var payload types.PowerPayload
		if err := json.Unmarshal(schedule.Payload, &payload); err != nil {
			return fmt.Errorf("invalid power payload: %w", err)
		}
		if !types.ValidPowerAction(payload.Action) {
			return fmt.Errorf("invalid power action %q", payload.Action)
		}
		return s.exec.Power(ctx, schedule.ServerID, payload.Action)

	case types.ScheduleActionCommand:
		var payload types.CommandPayload
		if err := json.Unmarshal(schedule.Payload, &payload); err != nil {
			return fmt.Errorf("invalid command payload: %w", err)
		}
		if payload.Command == "" {
			return fmt.Errorf("command payload is empty")
		}
		return s.exec.SendCommand(ctx, schedule.ServerID, payload.Command)

	case types.ScheduleActionBackup:
		name := fmt.Sprintf("%s %s", schedule.Name, time.Now().Format("2006-01-02 15:04"))
		_, err := s.backups.CreateBackup(ctx, schedule.ServerID, name)
		return err

	default:
		return fmt.Errorf("unknown schedule action %q", schedule.Action)
	}
}

// Package scheduler fires scheduled triggers from their cron schedules. It sits
// outside the automation core and only calls the runner.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kazi/internal/automation"
	"kazi/internal/gateway"
	"kazi/internal/metrics"
	"kazi/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ExecutedBy is recorded as performer on runs started by the scheduler.
const ExecutedBy = "scheduler"

// Executor runs one trigger. *automation.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, triggerID string, ec automation.ExecuteContext) (*automation.ExecuteResult, error)
}

type entry struct {
	id          cron.EntryID
	fingerprint string
}

// Scheduler keeps one cron entry per active schedule of an active scheduled
// trigger and resynchronises with the database every reload interval.
type Scheduler struct {
	gw     gateway.Gateway
	exec   Executor
	logger *logrus.Logger
	cron   *cron.Cron
	reload time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]entry // schedule id -> entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(gw gateway.Gateway, exec Executor, logger *logrus.Logger, reload time.Duration) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	cl := cron.PrintfLogger(logger)
	return &Scheduler{
		gw:     gw,
		exec:   exec,
		logger: logger,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		reload:  reload,
		now:     time.Now,
		entries: make(map[string]entry),
		ctx:     context.Background(),
	}
}

// AddFunc registers a maintenance job next to the trigger schedules.
func (s *Scheduler) AddFunc(spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		fn(ctx)
	})
	return err
}

// Start syncs once, starts cron and keeps resyncing until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	runCtx := s.ctx
	s.mu.Unlock()

	if err := s.Sync(runCtx); err != nil {
		s.logger.Warnf("scheduler: initial sync failed: %v", err)
	}
	s.cron.Start()

	if s.reload > 0 {
		s.wg.Add(1)
		go s.reloadLoop(runCtx)
	}
	s.logger.Infof("scheduler started with %d schedules", s.Len())
	return nil
}

// Stop halts the reload loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reload)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warnf("scheduler: sync failed: %v", err)
			}
		}
	}
}

// Sync reconciles cron entries with the stored schedules.
func (s *Scheduler) Sync(ctx context.Context) error {
	active := true
	var triggers []models.Trigger
	if err := s.gw.List(ctx, models.TableTriggers,
		gateway.Filter{"trigger_type": models.TriggerTypeScheduled, "is_active": active}, nil, &triggers); err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	eligible := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		eligible[t.ID] = true
	}

	var schedules []models.TriggerSchedule
	if err := s.gw.List(ctx, models.TableSchedules, gateway.Filter{"is_active": active}, gateway.Order{"created_at asc"}, &schedules); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(schedules))
	for _, sched := range schedules {
		if !eligible[sched.TriggerID] {
			continue
		}
		seen[sched.ID] = true
		fp := fingerprint(sched)
		if cur, ok := s.entries[sched.ID]; ok {
			if cur.fingerprint == fp {
				continue
			}
			s.cron.Remove(cur.id)
			delete(s.entries, sched.ID)
		}
		sched := sched
		id, err := s.cron.AddFunc(Spec(sched.CronExpression, sched.Timezone), func() { s.fire(sched) })
		if err != nil {
			s.logger.WithField("schedule_id", sched.ID).Warnf("scheduler: skip invalid schedule: %v", err)
			continue
		}
		s.entries[sched.ID] = entry{id: id, fingerprint: fp}
	}
	for schedID, e := range s.entries {
		if !seen[schedID] {
			s.cron.Remove(e.id)
			delete(s.entries, schedID)
		}
	}
	return nil
}

// Len returns the number of registered trigger schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) fire(sched models.TriggerSchedule) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	now := s.now()
	entry := s.logger.WithFields(logrus.Fields{"trigger_id": sched.TriggerID, "schedule_id": sched.ID})
	if !sched.InWindow(now) {
		metrics.IncScheduleFire("out_of_window")
		entry.Debug("scheduler: outside schedule window")
		return
	}
	res, err := s.exec.Execute(ctx, sched.TriggerID, automation.ExecuteContext{
		EventData: map[string]any{
			"schedule_id":  sched.ID,
			"scheduled_at": now.UTC().Format(time.RFC3339),
		},
		ExecutedBy: ExecutedBy,
	})
	if err != nil {
		metrics.IncScheduleFire("error")
		entry.Warnf("scheduler: execute failed: %v", err)
		return
	}
	metrics.IncScheduleFire("fired")
	entry.WithField("executed", res.Executed).Debug("scheduler: fired")
}

func fingerprint(s models.TriggerSchedule) string {
	f := Spec(s.CronExpression, s.Timezone)
	if s.StartDate != nil {
		f += "|" + s.StartDate.UTC().Format(time.RFC3339)
	}
	f += "|"
	if s.EndDate != nil {
		f += s.EndDate.UTC().Format(time.RFC3339)
	}
	return f
}

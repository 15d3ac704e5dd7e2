// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/lock"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// LeaderKey is the lock held by the node that owns the triggers.
const LeaderKey = "schedule:leader"

const releaseTimeout = 5 * time.Second

// FireKey names the dedup lock of one trigger fire. Fires of the same task
// within the same minute share a key.
func FireKey(scheduleID string, index int, at time.Time) string {
	return fmt.Sprintf("schedule:fire:%s:%d:%d", scheduleID, index, at.Unix()/60)
}

// ScanEnqueuer submits scan jobs without waiting for them.
type ScanEnqueuer interface {
	Enqueue(ctx context.Context, req jobs.ScanRequest) (string, error)
}

// RefreshQueue delivers schedule.refresh jobs to the leader.
type RefreshQueue interface {
	Register(h queue.Handler[queue.Empty, queue.Empty], concurrency int) (*queue.Registration, error)
}

// TriggerKey identifies one (schedule, task) pair.
type TriggerKey struct {
	ScheduleID string
	Index      int
}

// Trigger is one registered cron trigger.
type Trigger struct {
	ScheduleID string
	Index      int
	LibraryID  string
	Cron       string
}

// Config tunes a Coordinator.
type Config struct {
	LeaderTTL time.Duration
	// RenewEvery extends the leader lock periodically; 0 holds it without
	// renewal until it expires or is released on shutdown.
	RenewEvery   time.Duration
	PollInterval time.Duration
	FireLockTTL  time.Duration
	Location     *time.Location
	Clock        func() time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Coordinator elects a leader among nodes and, while leading, fires a scan
// job for every library of every persisted schedule.
type Coordinator struct {
	locker  *lock.Locker
	source  Source
	scans   ScanEnqueuer
	refresh RefreshQueue
	conf    Config
	logger  zerolog.Logger

	mu         sync.Mutex
	leader     *lock.Lock
	leaderCtx  context.Context
	stopLeader context.CancelFunc
	renewedAt  time.Time
	// loaded is false until the leader's first successful Reload.
	loaded     bool
	cron       *cron.Cron
	triggers   map[TriggerKey]Trigger
	refreshReg *queue.Registration
}

func NewCoordinator(locker *lock.Locker, source Source, scans ScanEnqueuer, refresh RefreshQueue, conf Config) *Coordinator {
	if conf.LeaderTTL <= 0 {
		conf.LeaderTTL = 30 * time.Second
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = 5 * time.Second
	}
	if conf.FireLockTTL <= 0 {
		conf.FireLockTTL = 30 * time.Second
	}
	if conf.Location == nil {
		conf.Location = time.Local
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &Coordinator{
		locker:   locker,
		source:   source,
		scans:    scans,
		refresh:  refresh,
		conf:     conf,
		logger:   log.WithComponent("schedule"),
		triggers: make(map[TriggerKey]Trigger),
	}
}

// Run campaigns for leadership until ctx ends, then releases it.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.conf.PollInterval
	if c.conf.RenewEvery > 0 {
		interval = min(interval, c.conf.RenewEvery)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.step(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

// IsLeader reports whether this node currently owns the triggers.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader != nil
}

// Triggers returns the registered triggers sorted by schedule id and index.
func (c *Coordinator) Triggers() []Trigger {
	c.mu.Lock()
	out := make([]Trigger, 0, len(c.triggers))
	for _, t := range c.triggers {
		out = append(out, t)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b Trigger) int {
		return cmp.Or(cmp.Compare(a.ScheduleID, b.ScheduleID), cmp.Compare(a.Index, b.Index))
	})
	return out
}

// step acquires leadership when free, or renews it when due. A leader
// whose schedules never loaded retries the load.
func (c *Coordinator) step(ctx context.Context) {
	c.mu.Lock()
	held := c.leader
	leaderCtx := c.leaderCtx
	pending := held != nil && !c.loaded
	due := held != nil && c.conf.RenewEvery > 0 && c.conf.Clock().Sub(c.renewedAt) >= c.conf.RenewEvery
	c.mu.Unlock()

	if held == nil {
		c.campaign(ctx)
		return
	}
	if pending {
		if err := c.Reload(leaderCtx); err != nil {
			c.logger.Warn().Err(err).Str("event", "schedule.reload_failed").Msg("schedule load failed; retrying")
		}
	}
	if !due {
		return
	}
	if err := c.locker.Renew(ctx, held, c.conf.LeaderTTL); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			c.logger.Warn().Str("event", "schedule.leadership_lost").Msg("leader lock lost; clearing triggers")
			c.resign(false)
			return
		}
		c.logger.Warn().Err(err).Str("event", "schedule.renew_failed").Msg("leader renewal failed; retrying")
		return
	}
	c.mu.Lock()
	c.renewedAt = c.conf.Clock()
	c.mu.Unlock()
}

func (c *Coordinator) campaign(ctx context.Context) {
	lk, ok, err := c.locker.Acquire(ctx, LeaderKey, c.conf.LeaderTTL)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", "schedule.acquire_failed").Msg("leader acquire failed")
		return
	}
	if !ok {
		return
	}

	leaderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.leader = lk
	c.leaderCtx = leaderCtx
	c.stopLeader = cancel
	c.renewedAt = c.conf.Clock()
	c.cron = cron.New(cron.WithParser(parser), cron.WithLocation(c.conf.Location))
	c.cron.Start()
	c.mu.Unlock()

	leaderGauge.Set(1)
	leadershipTotal.WithLabelValues("acquired").Inc()
	c.logger.Info().Str("event", "schedule.leader_acquired").Msg("became schedule leader")

	if err := c.Reload(leaderCtx); err != nil {
		c.logger.Error().Err(err).Str("event", "schedule.reload_failed").Msg("initial schedule load failed")
	}
	if c.refresh != nil {
		reg, err := c.refresh.Register(c.handleRefresh, 1)
		if err != nil {
			c.logger.Error().Err(err).Msg("failed to consume schedule refresh jobs")
			return
		}
		c.mu.Lock()
		if c.leader == lk {
			c.refreshReg = reg
			reg = nil
		}
		c.mu.Unlock()
		if reg != nil {
			reg.Stop()
		}
	}
}

func (c *Coordinator) handleRefresh(ctx context.Context, _ queue.Empty) (queue.Empty, error) {
	return queue.Empty{}, c.Reload(ctx)
}

// Reload replaces the trigger table with the current schedule set. It is a
// no-op on a node that is not leader.
func (c *Coordinator) Reload(ctx context.Context) error {
	schedules, err := c.source.LoadSchedules(ctx)
	if err != nil {
		reloadsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("load schedules: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leader == nil {
		return nil
	}
	c.clearLocked()
	c.loaded = true
	for _, s := range schedules {
		for i, lib := range s.Libraries {
			t := Trigger{ScheduleID: s.ID, Index: i, LibraryID: lib, Cron: s.Cron}
			if _, err := c.cron.AddFunc(s.Cron, func() { c.fire(t) }); err != nil {
				c.logger.Warn().Err(err).
					Str(log.FieldScheduleID, s.ID).
					Str("cron", s.Cron).
					Str("event", "schedule.invalid_cron").
					Msg("skipping schedule with invalid cron expression")
				break
			}
			c.triggers[TriggerKey{ScheduleID: s.ID, Index: i}] = t
		}
	}
	triggersGauge.Set(float64(len(c.triggers)))
	reloadsTotal.WithLabelValues("ok").Inc()
	c.logger.Info().Int("schedules", len(schedules)).Int("triggers", len(c.triggers)).
		Str("event", "schedule.reloaded").Msg("schedules loaded")
	return nil
}

func (c *Coordinator) clearLocked() {
	if c.cron != nil {
		for _, e := range c.cron.Entries() {
			c.cron.Remove(e.ID)
		}
	}
	clear(c.triggers)
	triggersGauge.Set(0)
}

// fire runs on the cron goroutine.
func (c *Coordinator) fire(t Trigger) {
	c.mu.Lock()
	ctx := c.leaderCtx
	leading := c.leader != nil
	c.mu.Unlock()
	if !leading {
		return
	}
	c.fireAt(ctx, t, c.conf.Clock())
}

func (c *Coordinator) fireAt(ctx context.Context, t Trigger, at time.Time) {
	logger := c.logger.With().Str(log.FieldScheduleID, t.ScheduleID).Int("index", t.Index).
		Str(log.FieldLibraryID, t.LibraryID).Logger()

	_, ok, err := c.locker.Acquire(ctx, FireKey(t.ScheduleID, t.Index, at), c.conf.FireLockTTL)
	switch {
	case err != nil:
		firesTotal.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Str("event", "schedule.fire_lock_failed").Msg("fire lock failed")
		return
	case !ok:
		firesTotal.WithLabelValues("deduped").Inc()
		logger.Debug().Str("event", "schedule.fire_deduped").Msg("fire already handled")
		return
	}
	// The fire lock is left to expire so near-simultaneous fires stay deduplicated.
	id, err := c.scans.Enqueue(ctx, jobs.ScanRequest{LibraryID: t.LibraryID})
	if err != nil {
		firesTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Str("event", "schedule.enqueue_failed").Msg("scan enqueue failed")
		return
	}
	firesTotal.WithLabelValues("enqueued").Inc()
	logger.Info().Str(log.FieldCorrelationID, id).Str("event", "schedule.fired").Msg("scheduled scan enqueued")
}

// resign drops leadership locally, optionally releasing the lock.
func (c *Coordinator) resign(release bool) {
	c.mu.Lock()
	held := c.leader
	reg := c.refreshReg
	cr := c.cron
	stop := c.stopLeader
	c.clearLocked()
	c.leader, c.refreshReg, c.cron, c.stopLeader, c.leaderCtx = nil, nil, nil, nil, nil
	c.loaded = false
	c.mu.Unlock()
	if held == nil {
		return
	}

	if stop != nil {
		stop()
	}
	if reg != nil {
		reg.Stop()
	}
	if cr != nil {
		<-cr.Stop().Done()
	}
	leaderGauge.Set(0)
	leadershipTotal.WithLabelValues("lost").Inc()

	if release {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := c.locker.Release(ctx, held.Key, held.Token); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			c.logger.Warn().Err(err).Str("event", "schedule.release_failed").Msg("leader release failed; it will expire")
		}
	}
}

func (c *Coordinator) shutdown() {
	c.resign(true)
	c.logger.Info().Str("event", "schedule.stopped").Msg("schedule coordinator stopped")
}

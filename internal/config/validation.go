// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for mediacore.
package config

import (
	"fmt"
	"strings"
	"time"
)

// FieldError describes one invalid configuration value.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError bundles every FieldError found by Validate.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	return strings.Join(msgs, "; ")
}

type validator struct {
	errs []FieldError
}

func (v *validator) add(field, msg string) {
	v.errs = append(v.errs, FieldError{Field: field, Message: msg})
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.add(field, "must be a positive duration")
	}
}

func (v *validator) atLeast(field string, n, min int) {
	if n < min {
		v.add(field, fmt.Sprintf("must be >= %d", min))
	}
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg Config) error {
	v := &validator{}

	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		v.add("redis.addr", "must not be empty")
	}
	v.positive("queue.wakeInterval", cfg.Queue.WakeInterval)
	v.positive("queue.resultTTL", cfg.Queue.ResultTTL)
	v.positive("queue.submitTimeout", cfg.Queue.SubmitTimeout)
	v.atLeast("queue.defaultConcurrency", cfg.Queue.DefaultConcurrency, 1)
	for jt, n := range cfg.Queue.Concurrency {
		v.atLeast("queue.concurrency."+jt, n, 1)
	}

	v.positive("lock.retryMin", cfg.Lock.RetryMin)
	if cfg.Lock.RetryMax < cfg.Lock.RetryMin {
		v.add("lock.retryMax", "must be >= lock.retryMin")
	}

	v.positive("sessions.idleTimeout", cfg.Sessions.IdleTimeout)
	v.positive("sessions.sweepInterval", cfg.Sessions.SweepInterval)
	v.atLeast("sessions.maxSessions", cfg.Sessions.MaxSessions, 1)
	if cfg.Sessions.SegmentSeconds <= 0 {
		v.add("sessions.segmentSeconds", "must be positive")
	}
	if cfg.Sessions.SegmentDir == "" {
		v.add("sessions.segmentDir", "must not be empty")
	}

	if cfg.Schedule.Enabled {
		v.positive("schedule.leaderTTL", cfg.Schedule.LeaderTTL)
		v.positive("schedule.pollInterval", cfg.Schedule.PollInterval)
		v.positive("schedule.fireLockTTL", cfg.Schedule.FireLockTTL)
		if cfg.Schedule.RenewEvery < 0 {
			v.add("schedule.renewEvery", "must not be negative")
		}
		if cfg.Schedule.RenewEvery > 0 && cfg.Schedule.RenewEvery >= cfg.Schedule.LeaderTTL {
			v.add("schedule.renewEvery", "must be shorter than schedule.leaderTTL")
		}
	}

	seen := make(map[string]bool, len(cfg.Library.Roots))
	for i, root := range cfg.Library.Roots {
		field := fmt.Sprintf("library.roots[%d]", i)
		if root.ID == "" {
			v.add(field+".id", "must not be empty")
		} else if seen[root.ID] {
			v.add(field+".id", fmt.Sprintf("duplicate library id %q", root.ID))
		}
		seen[root.ID] = true
		if root.Path == "" {
			v.add(field+".path", "must not be empty")
		}
	}

	if cfg.Images.RatePerSec <= 0 {
		v.add("images.ratePerSec", "must be positive")
	}
	v.atLeast("images.burst", cfg.Images.Burst, 1)
	for i, h := range cfg.Images.RemoteHosts {
		if h == "" || strings.ContainsAny(h, "/:@ ") {
			v.add(fmt.Sprintf("images.remoteHosts[%d]", i), "must be a bare host name")
		}
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			v.add("telemetry.exporter", "must be grpc or http")
		}
	}

	if len(v.errs) == 0 {
		return nil
	}
	return ValidationError{Errors: v.errs}
}

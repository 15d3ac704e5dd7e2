// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
	"github.com/rs/zerolog"
)

// lookup resolves key from the environment with parse, logging where the value came from.
// Sensitive keys never have their value logged.
func lookup[T any](key string, def T, parse func(string) (T, error), field func(*zerolog.Event, string, T) *zerolog.Event) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok {
		field(logger.Debug().Str("key", key).Str("source", "default"), "default", def).Msg("using default value")
		return def
	}
	if v == "" {
		field(logger.Debug().Str("key", key).Str("source", "default"), "default", def).
			Msg("using default value (environment variable is empty)")
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Err(err).Msg("invalid environment variable, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev.Bool("sensitive", true).Msg("using environment variable")
	} else {
		field(ev, "value", parsed).Msg("using environment variable")
	}
	return parsed
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return lookup(key, defaultValue,
		func(s string) (string, error) { return s, nil },
		func(e *zerolog.Event, f string, v string) *zerolog.Event { return e.Str(f, v) })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi,
		func(e *zerolog.Event, f string, v int) *zerolog.Event { return e.Int(f, v) })
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return lookup(key, defaultValue,
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		func(e *zerolog.Event, f string, v float64) *zerolog.Event { return e.Float64(f, v) })
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration,
		func(e *zerolog.Event, f string, v time.Duration) *zerolog.Event { return e.Dur(f, v) })
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, parseBool,
		func(e *zerolog.Event, f string, v bool) *zerolog.Event { return e.Bool(f, v) })
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

// applyEnv overlays MEDIACORE_* environment variables on cfg.
func applyEnv(cfg *Config) {
	cfg.NodeID = ParseString("MEDIACORE_NODE_ID", cfg.NodeID)
	cfg.LogLevel = ParseString("MEDIACORE_LOG_LEVEL", cfg.LogLevel)
	cfg.Virtual = ParseBool("MEDIACORE_VIRTUAL", cfg.Virtual)

	cfg.Redis.Addr = ParseString("MEDIACORE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("MEDIACORE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("MEDIACORE_REDIS_DB", cfg.Redis.DB)

	cfg.Queue.WakeInterval = ParseDuration("MEDIACORE_QUEUE_WAKE_INTERVAL", cfg.Queue.WakeInterval)
	cfg.Queue.ResultTTL = ParseDuration("MEDIACORE_QUEUE_RESULT_TTL", cfg.Queue.ResultTTL)
	cfg.Queue.DefaultConcurrency = ParseInt("MEDIACORE_QUEUE_CONCURRENCY", cfg.Queue.DefaultConcurrency)
	cfg.Queue.SubmitTimeout = ParseDuration("MEDIACORE_QUEUE_SUBMIT_TIMEOUT", cfg.Queue.SubmitTimeout)

	cfg.Sessions.IdleTimeout = ParseDuration("MEDIACORE_SESSION_IDLE_TIMEOUT", cfg.Sessions.IdleTimeout)
	cfg.Sessions.MaxSessions = ParseInt("MEDIACORE_SESSION_MAX", cfg.Sessions.MaxSessions)
	cfg.Sessions.SegmentDir = ParseString("MEDIACORE_SESSION_SEGMENT_DIR", cfg.Sessions.SegmentDir)
	cfg.Sessions.FFmpegBin = ParseString("MEDIACORE_FFMPEG_BIN", cfg.Sessions.FFmpegBin)

	cfg.Schedule.Enabled = ParseBool("MEDIACORE_SCHEDULE_ENABLED", cfg.Schedule.Enabled)
	cfg.Schedule.DBPath = ParseString("MEDIACORE_SCHEDULE_DB", cfg.Schedule.DBPath)
	cfg.Schedule.LeaderTTL = ParseDuration("MEDIACORE_SCHEDULE_LEADER_TTL", cfg.Schedule.LeaderTTL)
	cfg.Schedule.RenewEvery = ParseDuration("MEDIACORE_SCHEDULE_RENEW_EVERY", cfg.Schedule.RenewEvery)

	cfg.Library.CatalogPath = ParseString("MEDIACORE_LIBRARY_CATALOG", cfg.Library.CatalogPath)
	cfg.Search.IndexDir = ParseString("MEDIACORE_SEARCH_INDEX_DIR", cfg.Search.IndexDir)
	cfg.Images.CacheDir = ParseString("MEDIACORE_IMAGE_CACHE_DIR", cfg.Images.CacheDir)
	cfg.API.ListenAddr = ParseString("MEDIACORE_API_LISTEN", cfg.API.ListenAddr)

	cfg.Telemetry.Enabled = ParseBool("MEDIACORE_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString("MEDIACORE_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat("MEDIACORE_TELEMETRY_SAMPLING", cfg.Telemetry.SamplingRate)
}

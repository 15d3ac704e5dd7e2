// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Config is the effective runtime configuration after defaults, file and
// environment have been merged.
type Config struct {
	NodeID     string `yaml:"nodeId,omitempty"`
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`
	// Virtual replaces the transcoder with the simulated one.
	Virtual bool `yaml:"virtual,omitempty"`

	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Lock      LockConfig      `yaml:"lock"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Library   LibraryConfig   `yaml:"library"`
	Search    SearchConfig    `yaml:"search"`
	Images    ImagesConfig    `yaml:"images"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RedisConfig holds the coordination store connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// QueueConfig tunes the job queue.
type QueueConfig struct {
	// WakeInterval bounds a single blocking pop so consumers notice shutdown.
	WakeInterval time.Duration `yaml:"wakeInterval"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
	// Concurrency per job type; missing entries use DefaultConcurrency.
	Concurrency        map[string]int `yaml:"concurrency,omitempty"`
	DefaultConcurrency int            `yaml:"defaultConcurrency"`
	SubmitTimeout      time.Duration  `yaml:"submitTimeout"`
}

// LockConfig tunes acquire-with-retry backoff.
type LockConfig struct {
	RetryMin time.Duration `yaml:"retryMin"`
	RetryMax time.Duration `yaml:"retryMax"`
}

// SessionsConfig controls stream session lifecycle.
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// Retention keeps canceled sessions queryable before they are forgotten.
	Retention   time.Duration `yaml:"retention"`
	MaxSessions int           `yaml:"maxSessions"`
	// SegmentSeconds is the segment length requested from the transcoder.
	SegmentSeconds float64 `yaml:"segmentSeconds"`
	// SegmentDir holds one sub-directory of segment files per session.
	SegmentDir string `yaml:"segmentDir"`
	FFmpegBin  string `yaml:"ffmpegBin,omitempty"`
}

// ScheduleConfig controls the schedule coordinator.
type ScheduleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DBPath       string        `yaml:"dbPath,omitempty"`
	LeaderTTL    time.Duration `yaml:"leaderTTL"`
	RenewEvery   time.Duration `yaml:"renewEvery"`
	PollInterval time.Duration `yaml:"pollInterval"`
	FireLockTTL  time.Duration `yaml:"fireLockTTL"`
	Watch        bool          `yaml:"watch"`
}

// LibraryConfig lists the library roots available to scan jobs.
type LibraryConfig struct {
	// CatalogPath is the SQLite file holding scanned items.
	CatalogPath string        `yaml:"catalogPath"`
	Roots       []LibraryRoot `yaml:"roots,omitempty"`
}

// LibraryRoot maps a library id to a filesystem root.
type LibraryRoot struct {
	ID         string   `yaml:"id"`
	Path       string   `yaml:"path"`
	MaxDepth   int      `yaml:"maxDepth,omitempty"`
	IncludeExt []string `yaml:"includeExt,omitempty"`
}

// SearchConfig locates the persistent search index.
type SearchConfig struct {
	IndexDir string `yaml:"indexDir,omitempty"`
}

// ImagesConfig controls the thumbnail fetcher.
type ImagesConfig struct {
	CacheDir     string        `yaml:"cacheDir"`
	RatePerSec   float64       `yaml:"ratePerSec"`
	Burst        int           `yaml:"burst"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	// RemoteHosts may be named by http(s) image locations. Empty keeps
	// fetches local to the library roots.
	RemoteHosts []string `yaml:"remoteHosts,omitempty"`
}

// APIConfig controls the session control HTTP surface.
type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	CreateRateLimit int           `yaml:"createRateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
	Environment  string  `yaml:"environment,omitempty"`
}

// ConcurrencyFor returns the configured worker count for a job type.
func (q QueueConfig) ConcurrencyFor(jobType string) int {
	if n, ok := q.Concurrency[jobType]; ok && n > 0 {
		return n
	}
	return q.DefaultConcurrency
}

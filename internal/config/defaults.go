// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:   "info",
		LogService: "mediacore",
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Queue: QueueConfig{
			WakeInterval:       time.Second,
			ResultTTL:          60 * time.Second,
			DefaultConcurrency: 2,
			SubmitTimeout:      30 * time.Second,
		},
		Lock: LockConfig{
			RetryMin: 50 * time.Millisecond,
			RetryMax: 2 * time.Second,
		},
		Sessions: SessionsConfig{
			IdleTimeout:    15 * time.Second,
			SweepInterval:  time.Second,
			Retention:      5 * time.Minute,
			MaxSessions:    8,
			SegmentSeconds: 6,
			SegmentDir:     "/tmp/mediacore/sessions",
			FFmpegBin:      "ffmpeg",
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			LeaderTTL:    30 * time.Second,
			RenewEvery:   10 * time.Second,
			PollInterval: 5 * time.Second,
			FireLockTTL:  30 * time.Second,
			Watch:        true,
		},
		Library: LibraryConfig{
			CatalogPath: "/tmp/mediacore/library.db",
		},
		Images: ImagesConfig{
			CacheDir:     "/tmp/mediacore/images",
			RatePerSec:   4,
			Burst:        4,
			FetchTimeout: 15 * time.Second,
		},
		API: APIConfig{
			ListenAddr:      ":8088",
			CreateRateLimit: 30,
			RateWindow:      time.Minute,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

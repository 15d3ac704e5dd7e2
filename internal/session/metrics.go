// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacore_sessions",
		Help: "Sessions currently tracked, by status",
	}, []string{"status"})

	sessionEndTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_session_end_total",
		Help: "Sessions canceled, by reason",
	}, []string{"reason"})

	timeToFirstSegment = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediacore_session_time_to_first_segment_seconds",
		Help:    "Time from session creation to the first appended segment",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21},
	})

	transcodeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_transcode_total",
		Help: "Transcodes finished, by outcome",
	}, []string{"result"})
)

func transition(from, to Status) {
	if from == to {
		return
	}
	if from != "" {
		sessionsByStatus.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		sessionsByStatus.WithLabelValues(string(to)).Inc()
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK         = "ok"
	resultFailed     = "failed"
	resultBadPayload = "bad_payload"
)

var (
	submittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_queue_submitted_total",
		Help: "Jobs pushed onto a work list",
	}, []string{"job_type"})

	handledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_queue_handled_total",
		Help: "Jobs popped and handled, by outcome",
	}, []string{"job_type", "result"})

	timeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_queue_submit_timeouts_total",
		Help: "Submits abandoned because no result arrived in time",
	}, []string{"job_type"})

	inflight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacore_queue_inflight",
		Help: "Handlers currently executing",
	}, []string{"job_type"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediacore_queue_handle_duration_seconds",
		Help:    "Handler execution time",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job_type"})

	queueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediacore_queue_wait_seconds",
		Help:    "Time between enqueue and pickup",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"job_type"})
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	leaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_schedule_leader",
		Help: "1 while this node holds schedule leadership",
	})

	leadershipTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_schedule_leadership_total",
		Help: "Leadership transitions by kind",
	}, []string{"kind"})

	firesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_schedule_fires_total",
		Help: "Trigger fires by outcome",
	}, []string{"result"})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_schedule_reloads_total",
		Help: "Schedule reloads by outcome",
	}, []string{"result"})

	triggersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediacore_schedule_triggers",
		Help: "Cron triggers currently registered",
	})
)

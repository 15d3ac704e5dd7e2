// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAcquired  = "acquired"
	resultContended = "contended"
	resultError     = "error"
	resultReleased  = "released"
	resultNotHeld   = "not_held"
)

var (
	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_lock_acquire_total",
		Help: "Lock acquisition attempts by result",
	}, []string{"result"})

	releaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_lock_release_total",
		Help: "Lock releases by result",
	}, []string{"result"})
)

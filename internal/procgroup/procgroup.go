// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts child processes in their own process group so a
// transcoder and everything it spawned can be stopped together.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var signalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacore_proc_signal_total",
	Help: "Signals sent to child process groups by outcome",
}, []string{"signal", "result"})

var waitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacore_proc_wait_total",
	Help: "Child process exits observed after termination",
}, []string{"result"})

// Terminate sends SIGTERM to cmd's group, waits up to grace for waitCh and
// escalates to SIGKILL. It always drains waitCh and returns its error.
// A nil cmd or unstarted process returns nil.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	signal(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		observeWait("exit", err)
		return err
	case <-time.After(grace):
	}

	signal(cmd, syscall.SIGKILL)
	err := <-waitCh
	observeWait("forced", err)
	return err
}

func signal(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := Kill(cmd, sig); {
	case err == nil:
		signalTotal.WithLabelValues(name, "sent").Inc()
	case errors.Is(err, os.ErrProcessDone):
		signalTotal.WithLabelValues(name, "gone").Inc()
	default:
		signalTotal.WithLabelValues(name, "error").Inc()
	}
}

func observeWait(prefix string, err error) {
	if err == nil {
		waitTotal.WithLabelValues(prefix + "_ok").Inc()
		return
	}
	waitTotal.WithLabelValues(prefix + "_error").Inc()
}

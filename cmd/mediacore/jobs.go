// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/queue"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan <library>",
		Short: "Queue a library scan on the fleet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			req := jobs.ScanRequest{LibraryID: args[0]}
			out := cmd.OutOrStdout()
			if !wait {
				id, err := c.queues.Scan.Enqueue(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "queued scan of %s (%s)\n", req.LibraryID, id)
				return nil
			}
			if timeout <= 0 {
				timeout = c.cfg.Queue.SubmitTimeout
			}
			res, err := c.queues.Scan.Submit(cmd.Context(), req, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s, %d scanned, %d skipped, %d errors\n",
				res.LibraryID, res.Status, res.Scanned, res.Skipped, res.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the scan result")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long --wait blocks (default queue.submitTimeout)")
	return cmd
}

func newRefreshSchedulesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-schedules",
		Short: "Ask the schedule leader to reload the schedule database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			id, err := c.queues.Refresh.Enqueue(cmd.Context(), queue.Empty{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued schedule refresh (%s)\n", id)
			return nil
		},
	}
}

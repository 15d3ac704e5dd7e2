// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/spf13/cobra"

	"github.com/ManuGH/mediacore/internal/daemon"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var virtual bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node: job consumers, stream sessions, schedules and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if virtual {
				cfg.Virtual = true
			}
			app, err := daemon.New(cmd.Context(), cfg, daemon.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&virtual, "virtual", false, "Simulate transcoding instead of running ffmpeg")
	return cmd
}

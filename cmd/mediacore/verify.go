// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/mediacore/internal/persistence/sqlite"
)

// errCorrupt is returned when any checked database fails quick_check.
var errCorrupt = errors.New("database integrity check failed")

type dbTarget struct {
	path     string
	readOnly bool
}

func newVerifyDBCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-db",
		Short: "Run an integrity check on the library catalog and schedule database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			targets := []dbTarget{{path: cfg.Library.CatalogPath}}
			// The schedule database belongs to another writer.
			if cfg.Schedule.DBPath != "" {
				targets = append(targets, dbTarget{path: cfg.Schedule.DBPath, readOnly: true})
			}

			out := cmd.OutOrStdout()
			failed := false
			for _, target := range targets {
				path := target.path
				opts := sqlite.DefaultConfig()
				opts.ReadOnly = target.readOnly
				db, err := sqlite.Open(path, opts)
				if err != nil {
					return err
				}
				problems, err := sqlite.QuickCheck(cmd.Context(), db)
				_ = db.Close()
				if err != nil {
					return err
				}
				if len(problems) == 0 {
					fmt.Fprintf(out, "%s: ok\n", path)
					continue
				}
				failed = true
				fmt.Fprintf(out, "%s:\n  %s\n", path, strings.Join(problems, "\n  "))
			}
			if failed {
				return errCorrupt
			}
			return nil
		},
	}
}

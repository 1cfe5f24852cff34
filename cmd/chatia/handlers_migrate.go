package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/config"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/sessions"
)

// =============================================================================
// Migration Command Handlers
// =============================================================================

var errMemoryDriver = errors.New("session.driver is memory; migrations need sqlite or postgres")

func openMigrator(ctx context.Context, configPath string) (*sql.DB, *sessions.Migrator, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	return openMigratorFor(ctx, cfg.Session)
}

func openMigratorFor(ctx context.Context, cfg config.SessionConfig) (*sql.DB, *sessions.Migrator, error) {
	if cfg.Driver == "memory" {
		return nil, nil, errMemoryDriver
	}
	db, dialect, err := sessions.OpenDB(ctx, sessionDBConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return db, migrator, nil
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	slog.Info("running database migrations", "steps", steps)

	db, migrator, err := openMigrator(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
	}
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	slog.Warn("rolling back migrations", "steps", steps)

	db, migrator, err := openMigrator(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	db, migrator, err := openMigrator(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Applied migrations:")
	if len(applied) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		for _, entry := range applied {
			fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	if len(pending) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		for _, entry := range pending {
			fmt.Fprintf(out, "  - %s\n", entry.ID)
		}
	}
	fmt.Fprintln(out)

	return nil
}

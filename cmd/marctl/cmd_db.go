package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/garnizeh/mar/internal/app"
	"github.com/garnizeh/mar/internal/db"
)

var restoreForce bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations and seed data",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var backupCmd = &cobra.Command{
	Use:   "backup [dest]",
	Short: "Write a consistent copy of the SQLite database",
	Long: `backup writes a copy of the SQLite database using VACUUM INTO, which is
safe while the server is running. The default destination is <database>.bak.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [src]",
	Short: "Replace the SQLite database with a backup",
	Long: `restore copies a backup over the configured database file. The backup is
opened and checked for applied migrations first. Stop the server before
restoring. The default source is <database>.bak.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "overwrite an existing database file")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := app.OpenDB(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	versions, err := db.AppliedMigrations(ctx, conn)
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, map[string]any{"applied": versions})
	}
	out := cmd.OutOrStdout()
	for _, v := range versions {
		fmt.Fprintf(out, "  %s\n", v)
	}
	fmt.Fprintf(out, "%d migrations applied\n", len(versions))
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseDriver != db.DriverSQLite {
		return fmt.Errorf("backup supports sqlite only; use the %s tooling instead", cfg.DatabaseDriver)
	}
	dst := cfg.DatabasePath + ".bak"
	if len(args) == 1 {
		dst = args[0]
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove old backup: %w", err)
	}

	conn, err := app.OpenDB(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Exec(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database backup written to %s\n", dst)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseDriver != db.DriverSQLite {
		return fmt.Errorf("restore supports sqlite only; use the %s tooling instead", cfg.DatabaseDriver)
	}
	src := cfg.DatabasePath + ".bak"
	if len(args) == 1 {
		src = args[0]
	}
	dst := cfg.DatabasePath
	if src == dst {
		return errors.New("restore: source and destination are the same file")
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	check, err := db.Open(ctx, db.DriverSQLite, src, logger)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	versions, err := db.AppliedMigrations(ctx, check)
	check.Close()
	if err != nil {
		return fmt.Errorf("backup is not a mar database: %w", err)
	}
	if len(versions) == 0 {
		return errors.New("backup has no applied migrations")
	}

	if _, err := os.Stat(dst); err == nil && !restoreForce {
		return fmt.Errorf("%s exists; pass --force to overwrite", dst)
	}
	if err := copyFile(dst, src); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database restored from %s (%d migrations)\n", src, len(versions))
	return nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

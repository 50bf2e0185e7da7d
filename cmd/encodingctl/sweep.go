package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/reconcile"
	"github.com/example/face-attendance/internal/repository"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete encoding sets that have no student record",
	Long: `Runs one reconciliation pass: every stored encoding set older than the
grace period whose (student_id, group_id) has no student record is deleted.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Duration("grace", 0, "Override RECONCILE_GRACE_PERIOD")
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if grace, _ := cmd.Flags().GetDuration("grace"); grace > 0 {
		cfg.Reconcile.GracePeriod = grace
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := repository.Open(ctx, cfg.Database, gormlogger.Warn)
	if err != nil {
		return err
	}
	repo := repository.NewRepository(db, logger)

	start := time.Now()
	removed, err := reconcile.NewSweeper(store, repo, cfg.Reconcile.GracePeriod, logger).Sweep(ctx)
	logger.Info("sweep finished", zap.Int("removed", removed), zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphaned encoding sets\n", removed)
	return nil
}

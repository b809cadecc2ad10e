package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relogdev/relog/internal/config"
	"github.com/relogdev/relog/internal/migrate"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	ReviewDB string
	NoteDB   string
	Workers  int
}

// MigrateReport is the machine-readable result of a migration run.
type MigrateReport struct {
	Migrated   int64 `json:"migrated"`
	Skipped    int64 `json:"skipped"`
	Conflicted int64 `json:"conflicted"`
	Failed     int64 `json:"failed"`
}

func (r MigrateReport) String() string {
	return fmt.Sprintf("migrated %d change(s), skipped %d, conflicted %d, failed %d",
		r.Migrated, r.Skipped, r.Conflicted, r.Failed)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Rebuild every change in the review database",
		Long: `Migrate enumerates every change in the legacy relational store and
rebuilds each one into the note log, several changes at a time.

Changes that cannot be reconstructed are logged and skipped; the run
continues. The command fails only when no progress is possible at all.

Example:
  relog migrate --review-db ./review.db --note-db ./notes.db --workers 8`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ReviewDB, "review-db", "", "path to the legacy review database")
	cmd.Flags().StringVar(&opts.NoteDB, "note-db", "", "path to the note log database")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent changes (0 = use config)")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	out := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}

	review, notes, rb, err := openRebuilder(opts.Config, opts.ReviewDB, opts.NoteDB)
	if err != nil {
		return err
	}
	defer review.Close()
	defer notes.Close()

	stats, err := migrate.New(review, rb, cfg.Workers).Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "migration aborted", err)
	}

	report := MigrateReport{
		Migrated:   stats.Migrated.Load(),
		Skipped:    stats.Skipped.Load(),
		Conflicted: stats.Conflicted.Load(),
		Failed:     stats.Failed.Load(),
	}
	if err := out.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d change(s) failed to rebuild", report.Failed))
	}
	return nil
}

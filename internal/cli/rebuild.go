package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relogdev/relog/internal/config"
	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
	"github.com/relogdev/relog/internal/rebuild"
	"github.com/relogdev/relog/internal/reviewdb"
)

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	*RootOptions
	ReviewDB string
	NoteDB   string
}

// RebuildReport is the machine-readable result of a single rebuild.
type RebuildReport struct {
	Change   int64  `json:"change"`
	State    string `json:"state"`
	MetaSHA  string `json:"meta_sha"`
	Fresh    bool   `json:"fresh"`
	RunToken string `json:"run_token"`
}

func (r RebuildReport) String() string {
	freshness := "already up to date"
	if r.Fresh {
		freshness = "published"
	}
	return fmt.Sprintf("change %d: %s\n  state: %s\n  meta:  %s", r.Change, freshness, r.State, r.MetaSHA)
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebuild <change-id>",
		Short: "Rebuild one change's history into the note log",
		Long: `Rebuild reconstructs a single change from the legacy relational store
and publishes the result into the note log, replacing any previously
written history for that change.

Example:
  relog rebuild --review-db ./review.db --note-db ./notes.db 4217`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ReviewDB, "review-db", "", "path to the legacy review database")
	cmd.Flags().StringVar(&opts.NoteDB, "note-db", "", "path to the note log database")

	return cmd
}

func runRebuild(cmd *cobra.Command, opts *RebuildOptions, arg string) error {
	out := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	var id model.ChangeID
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid change id %q", arg))
	}

	review, notes, rb, err := openRebuilder(opts.Config, opts.ReviewDB, opts.NoteDB)
	if err != nil {
		return err
	}
	defer review.Close()
	defer notes.Close()

	res, err := rb.Rebuild(cmd.Context(), id)
	if err != nil {
		if cre, ok := rebuild.AsConflicting(err); ok {
			_ = out.Error(CodeConflict, cre.Error(), map[string]string{
				"staged_state": cre.Staged.State,
				"actual_state": cre.Actual,
			})
			return NewExitError(ExitFailure, "conflicting concurrent rebuild")
		}
		if rebuild.IsNoPatchSets(err) {
			return WrapExitError(ExitFailure, "change is not reconstructible", err)
		}
		return WrapExitError(ExitCommandError, "rebuild failed", err)
	}

	return out.Success(RebuildReport{
		Change:   int64(res.Change),
		State:    res.State,
		MetaSHA:  res.MetaSHA,
		Fresh:    res.Fresh,
		RunToken: res.RunToken,
	})
}

// openRebuilder resolves configuration and opens both stores. Explicit flags
// override the config file and environment.
func openRebuilder(configPath, reviewPath, notePath string) (*reviewdb.Store, *notedb.Store, *rebuild.Rebuilder, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if reviewPath != "" {
		cfg.ReviewDB = reviewPath
	}
	if notePath != "" {
		cfg.NoteDB = notePath
	}

	review, err := reviewdb.Open(cfg.ReviewDB)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open review database", err)
	}
	notes, err := notedb.Open(cfg.NoteDB)
	if err != nil {
		review.Close()
		return nil, nil, nil, WrapExitError(ExitCommandError, "failed to open note database", err)
	}

	rb := rebuild.New(review, notes, rebuild.Options{
		MaxDelta:  cfg.MaxDelta,
		MaxWindow: cfg.MaxWindow,
	})
	return review, notes, rb, nil
}

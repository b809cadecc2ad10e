package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	NoteDB  string
	Project string
	Drafts  bool
}

// ShowCommit is one commit in the machine-readable show output.
type ShowCommit struct {
	SHA     string `json:"sha"`
	Author  int64  `json:"author"`
	When    int64  `json:"when_millis"`
	Message string `json:"message"`
}

// ShowRef is one ref's worth of history, oldest commit first.
type ShowRef struct {
	Name    string       `json:"name"`
	Commits []ShowCommit `json:"commits"`
}

// ShowReport is the machine-readable result of the show command.
type ShowReport struct {
	Change int64     `json:"change"`
	Refs   []ShowRef `json:"refs"`
}

func (r ShowReport) String() string {
	var b strings.Builder
	for _, ref := range r.Refs {
		fmt.Fprintf(&b, "%s\n", ref.Name)
		for _, c := range ref.Commits {
			when := time.UnixMilli(c.When).UTC().Format(time.RFC3339)
			fmt.Fprintf(&b, "  %s  account %d  %s\n", c.SHA[:10], c.Author, when)
			for _, line := range strings.Split(strings.TrimRight(c.Message, "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <change-id>",
		Short: "Print a change's rebuilt history from the note log",
		Long: `Show walks the change's public meta ref (and optionally each author's
draft ref) and prints every commit, oldest first.

Example:
  relog show --note-db ./notes.db --project demo 4217`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.NoteDB, "note-db", "", "path to the note log database (required)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project the change belongs to (required)")
	cmd.Flags().BoolVar(&opts.Drafts, "drafts", false, "include per-author draft refs")
	_ = cmd.MarkFlagRequired("note-db")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runShow(cmd *cobra.Command, opts *ShowOptions, arg string) error {
	out := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	var id model.ChangeID
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid change id %q", arg))
	}

	notes, err := notedb.Open(opts.NoteDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open note database", err)
	}
	defer notes.Close()

	ctx := cmd.Context()
	refs := []string{notedb.MetaRef(id)}
	if opts.Drafts {
		draftRefs, err := notes.RefsByPrefix(ctx, opts.Project, notedb.DraftRefPrefix(id))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list draft refs", err)
		}
		refs = append(refs, draftRefs...)
	}

	report := ShowReport{Change: int64(id)}
	for _, name := range refs {
		var commits []ShowCommit
		err := notes.WalkRef(ctx, opts.Project, name, func(c *notedb.Commit) error {
			commits = append(commits, ShowCommit{
				SHA:     c.SHA,
				Author:  int64(c.Author),
				When:    c.WhenMillis,
				Message: c.Message,
			})
			return nil
		})
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to walk %s", name), err)
		}
		if len(commits) == 0 {
			continue
		}
		// WalkRef visits head first; present history oldest first.
		for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
			commits[i], commits[j] = commits[j], commits[i]
		}
		report.Refs = append(report.Refs, ShowRef{Name: name, Commits: commits})
	}

	if len(report.Refs) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no rebuilt history for change %d", id))
	}
	return out.Success(report)
}

package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
	"github.com/relogdev/relog/internal/rebuild"
	"github.com/relogdev/relog/internal/reviewdb"
	"github.com/relogdev/relog/internal/testutil"
)

// RunResult is the outcome of executing one scenario.
type RunResult struct {
	// Result is the published rebuild result.
	Result *notedb.Result

	// Transcript is the deterministic rendering of every written ref.
	Transcript string
}

// Run loads the scenario's rows into a throwaway review database, rebuilds
// the change into a throwaway note log, and renders the transcript.
func Run(t *testing.T, sc *Scenario) *RunResult {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	review, err := reviewdb.Open(filepath.Join(dir, "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { review.Close() })
	notes, err := notedb.Open(filepath.Join(dir, "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })

	bundle, err := sc.Bundle()
	require.NoError(t, err)
	loadBundle(t, ctx, review, bundle)

	rb := rebuild.New(review, notes, rebuild.Options{
		Tokens: notedb.NewFixedGenerator("run-1", "run-2"),
	})
	res, err := rb.Rebuild(ctx, bundle.Change.ID)
	require.NoError(t, err)
	require.True(t, res.Fresh, "first rebuild must publish")

	transcript, err := Transcript(ctx, notes, bundle.Change.Project, bundle.Change.ID)
	require.NoError(t, err)
	return &RunResult{Result: res, Transcript: transcript}
}

// loadBundle inserts every row of the bundle as fixtures.
func loadBundle(t *testing.T, ctx context.Context, review *reviewdb.Store, b *model.Bundle) {
	t.Helper()
	require.NoError(t, review.InsertChange(ctx, b.Change))
	for _, ps := range b.PatchSets {
		require.NoError(t, review.InsertPatchSet(ctx, ps))
	}
	for _, a := range b.Approvals {
		require.NoError(t, review.InsertApproval(ctx, a))
	}
	for _, c := range b.Comments {
		require.NoError(t, review.InsertComment(ctx, c))
	}
	for _, m := range b.Messages {
		require.NoError(t, review.InsertMessage(ctx, b.Change.ID, m))
	}
	for _, r := range b.Reviewers {
		require.NoError(t, review.InsertReviewer(ctx, b.Change.ID, r))
	}
}

// Transcript renders every ref written for the change as stable text:
// refs in name order, commits oldest first, timestamps as offsets from the
// fixture epoch. Commit SHAs are deliberately excluded; the commit content
// itself is what scenarios pin down.
func Transcript(ctx context.Context, notes *notedb.Store, project string, id model.ChangeID) (string, error) {
	refs := []string{notedb.MetaRef(id)}
	draftRefs, err := notes.RefsByPrefix(ctx, project, notedb.DraftRefPrefix(id))
	if err != nil {
		return "", err
	}
	refs = append(refs, draftRefs...)

	var b strings.Builder
	for _, name := range refs {
		var commits []*notedb.Commit
		err := notes.WalkRef(ctx, project, name, func(c *notedb.Commit) error {
			commits = append(commits, c)
			return nil
		})
		if err != nil {
			return "", err
		}
		if len(commits) == 0 {
			continue
		}
		fmt.Fprintf(&b, "== %s\n", name)
		for i := len(commits) - 1; i >= 0; i-- {
			c := commits[i]
			fmt.Fprintf(&b, "-- commit author=%d real=%d when=+%d\n",
				c.Author, c.RealAuthor, c.WhenMillis-testutil.Epoch)
			b.WriteString(c.Message)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

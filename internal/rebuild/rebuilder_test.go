package rebuild

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
	"github.com/relogdev/relog/internal/reviewdb"
	"github.com/relogdev/relog/internal/testutil"
)

type fixture struct {
	ctx    context.Context
	review *reviewdb.Store
	notes  *notedb.Store
	rb     *Rebuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	review, err := reviewdb.Open(filepath.Join(dir, "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { review.Close() })
	notes, err := notedb.Open(filepath.Join(dir, "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { notes.Close() })

	return &fixture{
		ctx:    context.Background(),
		review: review,
		notes:  notes,
		rb:     New(review, notes, Options{}),
	}
}

// seedChange inserts a minimal reviewable change: one patch set uploaded by
// the owner, one review message, one vote.
func (f *fixture) seedChange(t *testing.T, id model.ChangeID) *model.Change {
	t.Helper()
	change := &model.Change{
		ID:              id,
		Key:             "I0000000000000000000000000000000000000042",
		Project:         "demo",
		Branch:          "refs/heads/master",
		Owner:           1000,
		Subject:         "Add feature",
		OriginalSubject: "Add feature",
		CreatedOn:       testutil.At(0),
		LastUpdatedOn:   testutil.At(300_000),
		Status:          model.StatusNew,
		CurrentPatchSet: 1,
	}
	require.NoError(t, f.review.InsertChange(f.ctx, change))
	require.NoError(t, f.review.InsertPatchSet(f.ctx, &model.PatchSet{
		ID:        model.PatchSetID{Change: id, Num: 1},
		Uploader:  1000,
		CreatedOn: testutil.At(0),
		Revision:  "aaaa000102030405060708090a0b0c0d0e0f1011",
	}))
	require.NoError(t, f.review.InsertMessage(f.ctx, id, &model.Message{
		Key: "m-1", Author: 1000, WrittenOn: testutil.At(100_000),
		Message:  "Uploaded patch set 1.",
		PatchSet: &model.PatchSetID{Change: id, Num: 1},
	}))
	require.NoError(t, f.review.InsertApproval(f.ctx, &model.Approval{
		PatchSet: model.PatchSetID{Change: id, Num: 1},
		Account:  2000, Label: "Code-Review", Value: 2,
		Granted: testutil.At(200_000),
	}))
	return change
}

// metaMessages returns the change's public commit messages, oldest first.
func (f *fixture) metaMessages(t *testing.T, id model.ChangeID) []string {
	t.Helper()
	var msgs []string
	err := f.notes.WalkRef(f.ctx, "demo", notedb.MetaRef(id), func(c *notedb.Commit) error {
		msgs = append(msgs, c.Message)
		return nil
	})
	require.NoError(t, err)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

func TestRebuildPublishes(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)

	res, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	assert.NotEmpty(t, res.MetaSHA)
	assert.NotEmpty(t, res.State)

	// The state marker was claimed.
	change, err := f.review.ReadChange(f.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, res.State, change.NoteDbState)

	// Creation, message, and vote each landed as their own transaction.
	msgs := f.metaMessages(t, 42)
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0], "Create change")
	assert.Contains(t, msgs[0], "Branch: refs/heads/master")
	assert.Contains(t, msgs[1], "Uploaded patch set 1.")
	assert.Contains(t, msgs[2], "Label: Code-Review=+2")
}

func TestRebuildNoPatchSets(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.review.InsertChange(f.ctx, &model.Change{
		ID: 9, Key: "I9", Project: "demo", Branch: "refs/heads/master",
		Owner: 1000, CreatedOn: testutil.At(0), LastUpdatedOn: testutil.At(0),
		Status: model.StatusNew, CurrentPatchSet: 1,
	}))

	_, err := f.rb.Rebuild(f.ctx, 9)
	require.Error(t, err)
	assert.True(t, IsNoPatchSets(err))
}

func TestRebuildIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)

	first, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)
	second, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	// Content addressing makes the replays byte-identical, and the second
	// run recognizes the unchanged marker instead of publishing again.
	assert.True(t, first.Fresh)
	assert.False(t, second.Fresh, "second run on an unmodified bundle is already up to date")
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.MetaSHA, second.MetaSHA)

	// The marker the first run claimed is untouched.
	change, err := f.review.ReadChange(f.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first.State, change.NoteDbState)

	head, err := f.notes.RefSHA(f.ctx, "demo", notedb.MetaRef(42))
	require.NoError(t, err)
	assert.Equal(t, first.MetaSHA, head)
}

func TestRebuildIdenticalRaceSkipsWrite(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)

	// Stage against the unclaimed marker, then let another rebuild win.
	staleChange, mgr, err := f.rb.stage(f.ctx, 42)
	require.NoError(t, err)
	winner, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	res, err := f.rb.publish(f.ctx, staleChange, mgr)
	require.NoError(t, err)
	assert.False(t, res.Fresh, "identical result must not publish again")
	assert.Equal(t, winner.State, res.State)
}

func TestRebuildConflict(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)

	staleChange, mgr, err := f.rb.stage(f.ctx, 42)
	require.NoError(t, err)

	// A divergent writer claims the marker first.
	applied, _, err := f.review.SetNoteDbState(f.ctx, 42, "", "bogus-state")
	require.NoError(t, err)
	require.True(t, applied)

	_, err = f.rb.publish(f.ctx, staleChange, mgr)
	require.Error(t, err)
	cre, ok := AsConflicting(err)
	require.True(t, ok)
	assert.Equal(t, "bogus-state", cre.Actual)
	require.NotNil(t, cre.Staged, "staged result stays available to the caller")
	assert.NotEmpty(t, cre.Staged.State)
}

func TestRebuildSkipsPatchSetsBeyondCurrent(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)
	require.NoError(t, f.review.InsertPatchSet(f.ctx, &model.PatchSet{
		ID:       model.PatchSetID{Change: 42, Num: 3},
		Uploader: 1000, CreatedOn: testutil.At(250_000),
		Revision: "cccc000000000000000000000000000000000003",
	}))
	require.NoError(t, f.review.InsertApproval(f.ctx, &model.Approval{
		PatchSet: model.PatchSetID{Change: 42, Num: 3},
		Account:  2000, Label: "Verified", Value: 1,
		Granted: testutil.At(260_000),
	}))

	_, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	all := strings.Join(f.metaMessages(t, 42), "\n---\n")
	assert.NotContains(t, all, "Patch-set: 3")
	assert.NotContains(t, all, "Verified")
}

func TestRebuildDropsRowsForMissingPatchSets(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)
	// References patch set 2, which has no row at all.
	require.NoError(t, f.review.InsertMessage(f.ctx, 42, &model.Message{
		Key: "m-ghost", Author: 1000, WrittenOn: testutil.At(150_000),
		Message:  "Uploaded patch set 2.",
		PatchSet: &model.PatchSetID{Change: 42, Num: 2},
	}))

	_, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	all := strings.Join(f.metaMessages(t, 42), "\n---\n")
	assert.NotContains(t, all, "Uploaded patch set 2.")
}

func TestRebuildPostSubmitVoteAfterMerge(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.review.InsertChange(f.ctx, &model.Change{
		ID: 43, Key: "I43", Project: "demo", Branch: "refs/heads/master",
		Owner: 1000, Subject: "Merged change", OriginalSubject: "Merged change",
		CreatedOn: testutil.At(0), LastUpdatedOn: testutil.At(500_000),
		Status: model.StatusMerged, CurrentPatchSet: 1, SubmissionID: "sub-1",
	}))
	require.NoError(t, f.review.InsertPatchSet(f.ctx, &model.PatchSet{
		ID:       model.PatchSetID{Change: 43, Num: 1},
		Uploader: 1000, CreatedOn: testutil.At(0),
		Revision: "aaaa000000000000000000000000000000000043",
	}))
	require.NoError(t, f.review.InsertApproval(f.ctx, &model.Approval{
		PatchSet: model.PatchSetID{Change: 43, Num: 1},
		Account:  2000, Label: "Verified", Value: 1,
		Granted: testutil.At(100_000), PostSubmit: true,
	}))

	_, err := f.rb.Rebuild(f.ctx, 43)
	require.NoError(t, err)

	msgs := f.metaMessages(t, 43)
	require.GreaterOrEqual(t, len(msgs), 3)
	last := msgs[len(msgs)-1]
	beforeLast := msgs[len(msgs)-2]
	assert.Contains(t, last, "Label: Verified=+1", "post-submit vote lands last")
	assert.Contains(t, beforeLast, "Status: merged", "merge reconciliation precedes the vote")
}

func TestRebuildDraftsPerAuthor(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)
	for i, author := range []model.AccountID{2000, 3000} {
		require.NoError(t, f.review.InsertComment(f.ctx, &model.Comment{
			Key:      []string{"d-a", "d-b"}[i],
			PatchSet: model.PatchSetID{Change: 42, Num: 1},
			Author:   author, WrittenOn: testutil.At(210_000),
			File: "main.go", Line: 3, Message: "draft", Status: model.CommentDraft,
		}))
	}

	res, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)
	require.Len(t, res.DraftSHAs, 2)

	refs, err := f.notes.RefsByPrefix(f.ctx, "demo", notedb.DraftRefPrefix(42))
	require.NoError(t, err)
	assert.Equal(t, []string{
		notedb.DraftRef(42, 2000),
		notedb.DraftRef(42, 3000),
	}, refs)

	st, err := notedb.ParseState(res.State)
	require.NoError(t, err)
	assert.Len(t, st.Drafts, 2)
}

func TestRebuildRecoversHashtags(t *testing.T) {
	f := newFixture(t)
	change := f.seedChange(t, 42)

	// Simulate an earlier epoch of history that carried hashtags.
	mgr := notedb.NewUpdateManager(f.notes, "demo", nil)
	u := notedb.NewUpdate(change, 1000, 1000, testutil.At(50_000), model.PatchSetID{Change: 42, Num: 1}, "")
	u.SetHashtags([]string{"perf", "build"})
	mgr.Add(u)
	_, err := mgr.Execute(f.ctx)
	require.NoError(t, err)

	_, err = f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	all := strings.Join(f.metaMessages(t, 42), "\n---\n")
	assert.Contains(t, all, "Hashtags: build,perf")
}

func TestRebuildLinksExistingRevisions(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)
	require.NoError(t, f.notes.PutCommit(f.ctx, "demo", &notedb.Commit{
		SHA:        "aaaa000102030405060708090a0b0c0d0e0f1011",
		Author:     1000,
		RealAuthor: 1000,
		WhenMillis: testutil.Epoch,
		Message:    "uploaded revision",
	}))

	_, err := f.rb.Rebuild(f.ctx, 42)
	require.NoError(t, err)

	msgs := f.metaMessages(t, 42)
	assert.Contains(t, msgs[0], "Commit: aaaa000102030405060708090a0b0c0d0e0f1011")
	assert.NotContains(t, msgs[0], "Missing-commit:")
}

func TestStageThenExecute(t *testing.T) {
	f := newFixture(t)
	f.seedChange(t, 42)

	mgr, staged, err := f.rb.Stage(f.ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, staged.MetaSHA)

	// Staging alone writes nothing.
	head, err := f.notes.RefSHA(f.ctx, "demo", notedb.MetaRef(42))
	require.NoError(t, err)
	assert.Empty(t, head)

	res, err := f.rb.Execute(f.ctx, mgr)
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	assert.Equal(t, staged.MetaSHA, res.MetaSHA)

	head, err = f.notes.RefSHA(f.ctx, "demo", notedb.MetaRef(42))
	require.NoError(t, err)
	assert.Equal(t, staged.MetaSHA, head)
}

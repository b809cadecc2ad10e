package notedb

import (
	"context"
	"testing"
	"time"

	"github.com/relogdev/relog/internal/model"
)

func at(offsetMillis int64) time.Time {
	return time.UnixMilli(1600000000000 + offsetMillis).UTC()
}

func stageSimpleChange(t *testing.T, s *Store) *Result {
	t.Helper()
	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1"))
	change := testChange()

	u := NewUpdate(change, 1000, 1000, at(0), ps(1), "")
	u.CreateChange()
	u.SetCommit("abcd", "")
	m.Add(u)

	u2 := NewUpdate(change, 2000, 2000, at(100_000), ps(1), "")
	u2.PutApproval("Code-Review", 2)
	m.Add(u2)

	res, err := m.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestStageDeterministicAcrossManagers(t *testing.T) {
	build := func(s *Store) *Result {
		m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1"))
		change := testChange()
		u := NewUpdate(change, 1000, 1000, at(0), ps(1), "")
		u.CreateChange()
		m.Add(u)
		d := NewDraftUpdate(change, 2000, 2000, at(50_000), ps(1))
		d.PutComment(&model.Comment{Key: "d-1", PatchSet: ps(1), File: "a.go", Line: 3})
		m.AddDraft(d)
		res, err := m.Stage(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return res
	}
	a := build(openTestStore(t))
	b := build(openTestStore(t))
	if a.MetaSHA != b.MetaSHA {
		t.Errorf("meta heads diverge: %s vs %s", a.MetaSHA, b.MetaSHA)
	}
	if a.State != b.State {
		t.Errorf("state markers diverge: %q vs %q", a.State, b.State)
	}
	if a.DraftSHAs[2000] == "" || a.DraftSHAs[2000] != b.DraftSHAs[2000] {
		t.Errorf("draft heads diverge: %q vs %q", a.DraftSHAs[2000], b.DraftSHAs[2000])
	}
}

func TestExecuteWritesRefs(t *testing.T) {
	s := openTestStore(t)
	res := stageSimpleChange(t, s)

	ctx := context.Background()
	head, err := s.RefSHA(ctx, "demo", MetaRef(42))
	if err != nil {
		t.Fatal(err)
	}
	if head != res.MetaSHA {
		t.Errorf("ref head %s, want staged %s", head, res.MetaSHA)
	}
	var count int
	if err := s.WalkRef(ctx, "demo", MetaRef(42), func(*Commit) error {
		count++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("chain length %d, want 2", count)
	}
}

func TestDeleteThenRewriteStartsFromScratch(t *testing.T) {
	s := openTestStore(t)
	stageSimpleChange(t, s)

	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-2"))
	m.DeleteRef(MetaRef(42))
	u := NewUpdate(testChange(), 1000, 1000, at(0), ps(1), "")
	u.CreateChange()
	m.Add(u)
	if _, err := m.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	var commits []*Commit
	if err := s.WalkRef(context.Background(), "demo", MetaRef(42), func(c *Commit) error {
		commits = append(commits, c)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Fatalf("rewritten chain has %d commits, want 1", len(commits))
	}
	if commits[0].Parent != "" {
		t.Errorf("rewritten root has parent %q, want none", commits[0].Parent)
	}
}

func TestStagePerAuthorDraftChains(t *testing.T) {
	s := openTestStore(t)
	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1"))
	change := testChange()
	for _, author := range []model.AccountID{2000, 3000} {
		d := NewDraftUpdate(change, author, author, at(10_000), ps(1))
		d.PutComment(&model.Comment{Key: "d", PatchSet: ps(1), File: "a.go", Line: 1})
		m.AddDraft(d)
	}
	res, err := m.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.DraftSHAs) != 2 {
		t.Fatalf("draft heads %v, want one per author", res.DraftSHAs)
	}
	for _, author := range []model.AccountID{2000, 3000} {
		head, err := s.RefSHA(context.Background(), "demo", DraftRef(42, author))
		if err != nil {
			t.Fatal(err)
		}
		if head != res.DraftSHAs[author] {
			t.Errorf("author %d: ref head %s, want %s", author, head, res.DraftSHAs[author])
		}
	}
}

func TestStageRejectsMixedChanges(t *testing.T) {
	s := openTestStore(t)
	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1"))
	a := testChange()
	b := testChange()
	b.ID = 43

	u := NewUpdate(a, 1000, 1000, at(0), ps(1), "")
	u.CreateChange()
	m.Add(u)
	u2 := NewUpdate(b, 1000, 1000, at(0), model.PatchSetID{Change: 43, Num: 1}, "")
	u2.CreateChange()
	m.Add(u2)

	if _, err := m.Stage(context.Background()); err == nil {
		t.Fatal("staging updates across changes should error")
	}
}

func TestStageNothingStaged(t *testing.T) {
	s := openTestStore(t)
	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1"))
	m.Add(NewUpdate(testChange(), 1000, 1000, at(0), ps(1), "")) // empty, dropped
	if _, err := m.Stage(context.Background()); err == nil {
		t.Fatal("staging with nothing accumulated should error")
	}
}

func TestStageIdempotentUntilInvalidated(t *testing.T) {
	s := openTestStore(t)
	m := NewUpdateManager(s, "demo", NewFixedGenerator("run-1", "run-2"))
	u := NewUpdate(testChange(), 1000, 1000, at(0), ps(1), "")
	u.CreateChange()
	m.Add(u)

	ctx := context.Background()
	first, err := m.Stage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	again, err := m.Stage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Error("repeated Stage should return the cached result")
	}

	u2 := NewUpdate(testChange(), 2000, 2000, at(1_000), ps(1), "")
	u2.SetTopic("widgets")
	m.Add(u2)
	restaged, err := m.Stage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restaged.RunToken != "run-2" {
		t.Errorf("restaging should draw a new token, got %q", restaged.RunToken)
	}
	if restaged.MetaSHA == first.MetaSHA {
		t.Error("restaged head should include the new update")
	}
}

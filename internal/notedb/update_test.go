package notedb

import (
	"testing"
	"time"

	"github.com/relogdev/relog/internal/model"
)

func testChange() *model.Change {
	return &model.Change{
		ID:              42,
		Key:             "I0000000000000000000000000000000000000042",
		Project:         "demo",
		Branch:          "refs/heads/master",
		Owner:           1000,
		Subject:         "Current subject",
		OriginalSubject: "Original subject",
		CreatedOn:       time.UnixMilli(1600000000000).UTC(),
		LastUpdatedOn:   time.UnixMilli(1600000300000).UTC(),
		Status:          model.StatusNew,
		CurrentPatchSet: 1,
	}
}

func ps(n int) model.PatchSetID {
	return model.PatchSetID{Change: 42, Num: n}
}

func TestNoteUpdateRenderCreateChange(t *testing.T) {
	u := NewUpdate(testChange(), 1000, 1000, time.UnixMilli(1600000000000).UTC(), ps(1), "")
	u.CreateChange()
	u.SetCommit("abcd", "")

	got := u.render()
	want := "Create change\n\n" +
		"Patch-set: 1\n" +
		"Branch: refs/heads/master\n" +
		"Change-id: I0000000000000000000000000000000000000042\n" +
		"Subject: Original subject\n" +
		"Commit: abcd\n"
	if got != want {
		t.Errorf("render:\n%q\nwant:\n%q", got, want)
	}
}

func TestNoteUpdateRenderMessageAndTag(t *testing.T) {
	u := NewUpdate(testChange(), 2000, 2000, time.UnixMilli(1600000100000).UTC(), ps(2), "autogenerated:merge")
	u.SetChangeMessage("Looks good.\n\nShip it.\n")
	u.PutApproval("Code-Review", 2)
	u.PutApproval("Verified", -1)

	got := u.render()
	want := "Update patch set 2\n\n" +
		"Looks good.\n\nShip it.\n\n" +
		"Patch-set: 2\n" +
		"Label: Code-Review=+2\n" +
		"Label: Verified=-1\n" +
		"Tag: autogenerated:merge\n"
	if got != want {
		t.Errorf("render:\n%q\nwant:\n%q", got, want)
	}
}

func TestNoteUpdateRenderComment(t *testing.T) {
	u := NewUpdate(testChange(), 2000, 2000, time.UnixMilli(1600000200000).UTC(), ps(1), "")
	u.PutComment(&model.Comment{
		Key: "c-1", PatchSet: ps(1), File: "main.go", Line: 7,
		ParentRevision: "feed",
	})
	u.PutComment(&model.Comment{
		Key: "c-2", PatchSet: ps(1), File: "util.go", Line: 0,
	})

	got := u.render()
	want := "Update patch set 1\n\n" +
		"Patch-set: 1\n" +
		"Comment: main.go:7@feed c-1\n" +
		"Comment: util.go:0@- c-2\n"
	if got != want {
		t.Errorf("render:\n%q\nwant:\n%q", got, want)
	}
}

func TestNoteUpdateIsEmpty(t *testing.T) {
	u := NewUpdate(testChange(), 1000, 1000, time.UnixMilli(0), ps(1), "")
	if !u.IsEmpty() {
		t.Error("fresh update should be empty")
	}
	u.SetTopic("widgets")
	if u.IsEmpty() {
		t.Error("update with a footer is not empty")
	}
}

func TestDraftUpdateRender(t *testing.T) {
	d := NewDraftUpdate(testChange(), 2000, 2000, time.UnixMilli(1600000200000).UTC(), ps(1))
	if !d.IsEmpty() {
		t.Error("fresh draft update should be empty")
	}
	d.PutComment(&model.Comment{
		Key: "d-1", PatchSet: ps(1), File: "main.go", Line: 12, ParentRevision: "feed",
	})

	got := d.render()
	want := "Update draft comments\n\n" +
		"Patch-set: 1\n" +
		"Comment: main.go:12@feed d-1\n"
	if got != want {
		t.Errorf("render:\n%q\nwant:\n%q", got, want)
	}
}

func TestComputeSHADeterministic(t *testing.T) {
	a := computeSHA("", 1000, 1000, 1600000000000, "msg")
	b := computeSHA("", 1000, 1000, 1600000000000, "msg")
	if a != b {
		t.Error("identical inputs must hash identically")
	}
	if c := computeSHA(a, 1000, 1000, 1600000000000, "msg"); c == a {
		t.Error("parent must be part of the identity")
	}
	if len(a) != 40 {
		t.Errorf("sha length %d, want 40", len(a))
	}
}

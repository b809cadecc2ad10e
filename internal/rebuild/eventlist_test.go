package rebuild

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/testutil"
)

func newTestList() *eventList {
	return newEventList(DefaultMaxDelta, DefaultMaxWindow)
}

func TestEventListAcceptsIntoEmpty(t *testing.T) {
	change := testChange()
	l := newTestList()
	assert.True(t, l.canAdd(newStub(change, "a", 2000, 0, 1)))
	assert.True(t, l.canAdd(newFinalEvent(change, newShadowChange(), 1)))
}

func TestEventListIdentityCohesion(t *testing.T) {
	change := testChange()
	l := newTestList()
	l.add(newStub(change, "a", 2000, 0, 1))

	assert.True(t, l.canAdd(newStub(change, "same", 2000, 100, 1)))
	assert.False(t, l.canAdd(newStub(change, "other author", 3000, 100, 1)))
	assert.False(t, l.canAdd(newStub(change, "other ps", 2000, 100, 2)))

	tagged := newStub(change, "tagged", 2000, 100, 1)
	tagged.tag = "autogenerated:tag"
	assert.False(t, l.canAdd(tagged))

	imp := newEvent(KindReviewer, psID(1), 2000, 3000, testutil.At(100), change, "")
	assert.False(t, l.canAdd(&stubEvent{event: imp, name: "impersonated"}))
}

func TestEventListDeltaAndWindow(t *testing.T) {
	change := testChange()
	l := newTestList()
	l.add(newStub(change, "t0", 2000, 0, 1))

	// Inside the per-event gap.
	assert.True(t, l.canAdd(newStub(change, "t900", 2000, 900, 1)))
	l.add(newStub(change, "t900", 2000, 900, 1))
	assert.True(t, l.canAdd(newStub(change, "t1800", 2000, 1_800, 1)))
	l.add(newStub(change, "t1800", 2000, 1_800, 1))

	// Gap above MaxDelta.
	assert.False(t, l.canAdd(newStub(change, "gap", 2000, 3_000, 1)))

	// Gap fine, but total span above MaxWindow.
	l.add(newStub(change, "t2700", 2000, 2_700, 1))
	assert.False(t, l.canAdd(newStub(change, "t3600", 2000, 3_600, 1)))
}

func TestEventListTimestampRegressionPanics(t *testing.T) {
	change := testChange()
	l := newTestList()
	l.add(newStub(change, "t500", 2000, 500, 1))
	mustPanicInvariant(t, func() { l.canAdd(newStub(change, "t100", 2000, 100, 1)) })
}

func TestEventListFinalIsAlone(t *testing.T) {
	change := testChange()
	final := newFinalEvent(change, newShadowChange(), 1)

	l := newTestList()
	l.add(newStub(change, "a", 1000, 9_500, 1))
	assert.False(t, l.canAdd(final), "terminal event must not join a batch")

	l.clear()
	l.add(final)
	follower := newStub(change, "after", 1000, 10_000, 1)
	assert.False(t, l.canAdd(follower), "nothing joins the terminal batch")
}

func TestEventListUniqueKindPerUpdate(t *testing.T) {
	change := testChange()
	shadow := newShadowChange()
	m1 := newMessageEvent(change, &model.Message{
		Key: "m-1", Author: 2000, WrittenOn: testutil.At(0),
		Message: "first", PatchSet: psID(1),
	}, shadow)
	m2 := newMessageEvent(change, &model.Message{
		Key: "m-2", Author: 2000, WrittenOn: testutil.At(100),
		Message: "second", PatchSet: psID(1),
	}, shadow)

	l := newTestList()
	l.add(m1)
	assert.False(t, l.canAdd(m2), "two messages cannot share a transaction")
	assert.True(t, l.canAdd(newStub(change, "other kind", 2000, 100, 1)))
}

func TestEventListPostSubmitAfterSubmit(t *testing.T) {
	change := testChange()
	change.Status = model.StatusMerged

	submit := &stubSubmit{stubEvent: *newStub(change, "submit", 2000, 0, 1)}
	postSubmit := newApprovalEvent(change, &model.Approval{
		PatchSet: *psID(1), Account: 2000, Label: "Verified", Value: 1,
		Granted: testutil.At(100), PostSubmit: true,
	})
	regular := newApprovalEvent(change, &model.Approval{
		PatchSet: *psID(1), Account: 2000, Label: "Code-Review", Value: 2,
		Granted: testutil.At(100),
	})

	l := newTestList()
	l.add(submit)
	assert.False(t, l.canAdd(postSubmit), "post-submit vote cannot share the submit batch")
	assert.True(t, l.canAdd(regular))
}

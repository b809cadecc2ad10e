package rebuild

import (
	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// createChangeEvent opens the reconstructed history when no patch set event
// by the change owner could do it. It carries the change's creation
// timestamp and the lowest surviving patch set number.
type createChangeEvent struct {
	event
	change *model.Change
}

func newCreateChangeEvent(change *model.Change, psNum int) *createChangeEvent {
	psID := model.PatchSetID{Change: change.ID, Num: psNum}
	return &createChangeEvent{
		event:  newEvent(KindCreateChange, &psID, change.Owner, 0, change.CreatedOn, change, ""),
		change: change,
	}
}

func (e *createChangeEvent) UniquePerUpdate() bool { return true }

func (e *createChangeEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	u.CreateChange()
	return nil
}

// finalEvent is the terminal reconciliation: it compares the authoritative
// change row against the shadow state accumulated from interpreted messages
// and emits only the mutations needed to close the gap. It always occupies
// its own transaction, sorted after everything else.
type finalEvent struct {
	event
	change *model.Change
	shadow *shadowChange

	// highestPatchSet is the highest patch set number that produced an
	// event; the current-patch-set pointer is emitted only when the
	// authoritative row disagrees with it.
	highestPatchSet int
}

func newFinalEvent(change *model.Change, shadow *shadowChange, highestPatchSet int) *finalEvent {
	psID := change.CurrentPatchSetID()
	return &finalEvent{
		event:           newEvent(KindFinal, &psID, change.Owner, 0, change.LastUpdatedOn, change, ""),
		change:          change,
		shadow:          shadow,
		highestPatchSet: highestPatchSet,
	}
}

func (e *finalEvent) UniquePerUpdate() bool { return true }

// IsSubmit reports whether the reconciliation drives the change to merged.
// Merges were recorded nowhere else in the legacy rows, so the terminal
// event is the submit event for merged changes.
func (e *finalEvent) IsSubmit() bool { return e.change.Status == model.StatusMerged }

func (e *finalEvent) Apply(u *notedb.NoteUpdate) error {
	if e.change.Topic != e.shadow.topic {
		u.SetTopic(e.change.Topic)
	}
	if e.change.Status != e.shadow.status {
		u.FixStatus(e.change.Status)
	}
	if e.change.Status == model.StatusMerged && e.change.SubmissionID != "" {
		u.SetSubmissionID(e.change.SubmissionID)
	}
	if e.change.Assignee != 0 {
		u.SetAssignee(e.change.Assignee)
	}
	if e.change.CurrentPatchSet != e.highestPatchSet {
		u.SetCurrentPatchSet(e.change.CurrentPatchSet)
	}
	if !u.IsEmpty() {
		u.SetSubjectForCommit("Finalize change history")
	}
	return nil
}

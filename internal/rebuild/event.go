package rebuild

import (
	"cmp"
	"fmt"
	"time"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// Kind discriminates event variants. The batcher uses it for the
// one-per-transaction rule; everything else goes through the Event interface.
type Kind int

const (
	KindCreateChange Kind = iota + 1
	KindPatchSet
	KindApproval
	KindComment
	KindDraftComment
	KindReviewer
	KindMessage
	KindHashtags
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindCreateChange:
		return "create-change"
	case KindPatchSet:
		return "patch-set"
	case KindApproval:
		return "approval"
	case KindComment:
		return "comment"
	case KindDraftComment:
		return "draft-comment"
	case KindReviewer:
		return "reviewer"
	case KindMessage:
		return "message"
	case KindHashtags:
		return "hashtags"
	case KindFinal:
		return "final"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one reconstructed history fact, carrying the identity fields the
// batcher groups on and an Apply that folds the fact into a transaction.
type Event interface {
	// Kind identifies the variant.
	Kind() Kind

	// UniquePerUpdate reports whether at most one event of this kind may
	// occupy a single transaction.
	UniquePerUpdate() bool

	// Apply folds the event's mutations into the prepared transaction. It
	// panics with an InvariantError if the transaction's identity does not
	// match the event's; the batcher guarantees it does. Returned errors are
	// data or I/O failures.
	Apply(u *notedb.NoteUpdate) error

	// IsPostSubmitApproval reports whether this is a vote cast after the
	// change merged. Such votes must not land in the same transaction as,
	// or any transaction before, the submit event.
	IsPostSubmitApproval() bool

	// IsSubmit reports whether this event drives the change to merged.
	IsSubmit() bool

	meta() *event
}

// event is the scheduling metadata embedded in every variant.
type event struct {
	kind       Kind
	psID       *model.PatchSetID // nil until backfilled for patch-set-independent events
	who        model.AccountID
	realWho    model.AccountID
	when       time.Time
	tag        string
	deps       []Event
	sortSeq    int  // input position; breaks full comparator ties deterministically
	predatesCh bool // original timestamp preceded the change's CreatedOn
}

// newEvent normalizes the identity fields shared by all variants: an unset
// real author collapses onto the author, and timestamps before the change's
// creation are clamped up to it (legacy rows contain such anomalies).
func newEvent(kind Kind, psID *model.PatchSetID, who, realWho model.AccountID, when time.Time, change *model.Change, tag string) event {
	if realWho == 0 {
		realWho = who
	}
	predates := when.Before(change.CreatedOn)
	if predates {
		when = change.CreatedOn
	}
	return event{
		kind:       kind,
		psID:       psID,
		who:        who,
		realWho:    realWho,
		when:       when,
		tag:        tag,
		predatesCh: predates,
	}
}

func (e *event) Kind() Kind                 { return e.kind }
func (e *event) UniquePerUpdate() bool      { return false }
func (e *event) IsPostSubmitApproval() bool { return false }
func (e *event) IsSubmit() bool             { return false }
func (e *event) meta() *event               { return e }

// addDep records that the event must not be emitted before dep.
func (e *event) addDep(dep Event) { e.deps = append(e.deps, dep) }

// checkUpdate asserts that the event belongs in the given transaction: same
// patch set, same author, timestamp inside the transaction's window. The
// batcher upholds all three; a violation here is a pipeline bug.
func (e *event) checkUpdate(u *notedb.NoteUpdate) {
	invariant(e.psID != nil && *e.psID == u.PatchSet,
		"cannot apply %s event for patch set %v to update for %v", e.kind, e.psID, u.PatchSet)
	invariant(e.who == u.Author,
		"cannot apply %s event by account %d to update by %d", e.kind, e.who, u.Author)
	invariant(!e.when.Before(u.When) && e.when.Sub(u.When) <= u.Window,
		"%s event at %v outside window of update at %v", e.kind, e.when, u.When)
}

// compareNatural is the chronological order events are batched in, before
// dependency constraints are folded in:
//
//  1. the terminal reconciliation event sorts last;
//  2. earlier timestamps first;
//  3. at equal timestamps, patch set events first (facts attach to the
//     patch set that carries them);
//  4. then events whose original timestamp predated the change's creation;
//  5. then by author, real author, and patch set (events bound to no patch
//     set yet sort last).
func compareNatural(a, b Event) int {
	am, bm := a.meta(), b.meta()
	if c := cmpTrueLast(am.kind == KindFinal, bm.kind == KindFinal); c != 0 {
		return c
	}
	if c := am.when.Compare(bm.when); c != 0 {
		return c
	}
	if c := cmpTrueFirst(am.kind == KindPatchSet, bm.kind == KindPatchSet); c != 0 {
		return c
	}
	if c := cmpTrueFirst(am.predatesCh, bm.predatesCh); c != 0 {
		return c
	}
	if c := cmp.Compare(am.who, bm.who); c != 0 {
		return c
	}
	if c := cmp.Compare(am.realWho, bm.realWho); c != 0 {
		return c
	}
	return comparePatchSetID(am.psID, bm.psID)
}

func cmpTrueFirst(a, b bool) int {
	switch {
	case a && !b:
		return -1
	case !a && b:
		return 1
	default:
		return 0
	}
}

func cmpTrueLast(a, b bool) int { return -cmpTrueFirst(a, b) }

// comparePatchSetID orders by patch set, nils last.
func comparePatchSetID(a, b *model.PatchSetID) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if c := cmp.Compare(a.Change, b.Change); c != 0 {
		return c
	}
	return cmp.Compare(a.Num, b.Num)
}

func millisToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func patchSetIDEqual(a, b *model.PatchSetID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

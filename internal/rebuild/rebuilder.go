package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
	"github.com/relogdev/relog/internal/reviewdb"
)

// Batching defaults. One second between consecutive events and three
// seconds end to end approximate what a single legacy operation produced.
const (
	DefaultMaxDelta  = time.Second
	DefaultMaxWindow = 3 * time.Second
)

// Options tunes a Rebuilder. The zero value uses the defaults above and
// time-sortable run tokens.
type Options struct {
	MaxDelta  time.Duration
	MaxWindow time.Duration
	Tokens    notedb.TokenGenerator
}

func (o Options) withDefaults() Options {
	if o.MaxDelta <= 0 {
		o.MaxDelta = DefaultMaxDelta
	}
	if o.MaxWindow <= 0 {
		o.MaxWindow = DefaultMaxWindow
	}
	return o
}

// Rebuilder reconstructs changes from the legacy relational store into the
// note log. Safe for concurrent use; each rebuild works on its own
// UpdateManager.
type Rebuilder struct {
	review *reviewdb.Store
	notes  *notedb.Store
	opts   Options
}

// New creates a Rebuilder over the two stores.
func New(review *reviewdb.Store, notes *notedb.Store, opts Options) *Rebuilder {
	return &Rebuilder{review: review, notes: notes, opts: opts.withDefaults()}
}

// Rebuild reconstructs one change end to end: read the relational snapshot,
// build and stage the transactions, claim the state marker, and publish.
//
// When a concurrent rebuild produced the identical result, the returned
// Result has Fresh=false and no error; the winner's writes already cover
// this run. A divergent concurrent rebuild returns ConflictingRebuildError
// carrying the staged local result.
func (r *Rebuilder) Rebuild(ctx context.Context, id model.ChangeID) (*notedb.Result, error) {
	change, mgr, err := r.stage(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.publish(ctx, change, mgr)
}

// Stage builds and stages the transactions for one change without
// publishing. The returned manager can be passed to Execute later; the
// Result describes the history the change would get.
func (r *Rebuilder) Stage(ctx context.Context, id model.ChangeID) (*notedb.UpdateManager, *notedb.Result, error) {
	_, mgr, err := r.stage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, err := mgr.Stage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return mgr, res, nil
}

// Execute publishes a previously staged manager, re-reading the state
// marker so the compare-and-swap races correctly against concurrent
// rebuilds that ran in between.
func (r *Rebuilder) Execute(ctx context.Context, mgr *notedb.UpdateManager) (*notedb.Result, error) {
	res, err := mgr.Stage(ctx)
	if err != nil {
		return nil, err
	}
	change, err := r.review.ReadChange(ctx, res.Change)
	if err != nil {
		return nil, err
	}
	return r.publish(ctx, change, mgr)
}

func (r *Rebuilder) stage(ctx context.Context, id model.ChangeID) (*model.Change, *notedb.UpdateManager, error) {
	bundle, err := r.review.ReadBundle(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	mgr := notedb.NewUpdateManager(r.notes, bundle.Change.Project, r.opts.Tokens)
	if err := r.BuildUpdates(ctx, mgr, bundle); err != nil {
		return nil, nil, err
	}
	return bundle.Change, mgr, nil
}

// publish claims the change's state marker with a compare-and-swap and, on
// success, physically writes the staged refs. Claim first, write second:
// the loser of the race never writes, and the idempotent commit inserts
// make even a redundant write harmless.
func (r *Rebuilder) publish(ctx context.Context, change *model.Change, mgr *notedb.UpdateManager) (*notedb.Result, error) {
	res, err := mgr.Stage(ctx)
	if err != nil {
		return nil, err
	}
	if change.NoteDbState == res.State {
		// The marker already records exactly this rebuild. Content
		// addressing means the note log holds our bytes too; there is
		// nothing to claim and nothing to write.
		slog.Debug("change already up to date",
			"change", change.ID, "run", res.RunToken)
		res.Fresh = false
		return res, nil
	}
	applied, current, err := r.review.SetNoteDbState(ctx, change.ID, change.NoteDbState, res.State)
	if err != nil {
		return nil, err
	}
	if !applied {
		if current == res.State {
			// A concurrent identical rebuild won the claim. Its writes are
			// byte-for-byte ours, so this run succeeds without writing.
			slog.Debug("identical rebuild already published",
				"change", change.ID, "run", res.RunToken)
			res.Fresh = false
			return res, nil
		}
		return nil, &ConflictingRebuildError{
			Change:   change.ID,
			Expected: change.NoteDbState,
			Actual:   current,
			Staged:   res,
		}
	}
	if _, err := mgr.Execute(ctx); err != nil {
		return nil, fmt.Errorf("execute staged updates for change %d: %w", change.ID, err)
	}
	res.Fresh = true
	slog.Debug("published rebuilt change",
		"change", change.ID, "run", res.RunToken, "state", res.State)
	return res, nil
}

// BuildUpdates derives the full event stream for one change and stages the
// resulting transactions on mgr. It does not publish.
func (r *Rebuilder) BuildUpdates(ctx context.Context, mgr *notedb.UpdateManager, bundle *model.Bundle) error {
	change := bundle.Change
	if len(bundle.PatchSets) == 0 {
		return &NoPatchSetsError{Change: change.ID}
	}

	// Recover hashtags from any prior note history before wiping it; they
	// exist nowhere in the relational rows.
	events, err := r.hashtagEvents(ctx, mgr, change)
	if err != nil {
		return err
	}
	if err := r.deleteExistingRefs(ctx, mgr, change); err != nil {
		return err
	}

	revisionExists := func(sha string) (bool, error) {
		return mgr.Store().HasCommit(ctx, mgr.Project(), sha)
	}

	// Patch set events chain in upload order so dependency sorting can
	// never interleave a later upload before an earlier one.
	psEvents := make(map[int]*patchSetEvent, len(bundle.PatchSets))
	var prevPS *patchSetEvent
	highestPS := 0
	for _, ps := range bundle.PatchSets {
		if ps.ID.Num > change.CurrentPatchSet {
			slog.Warn("skipping patch set beyond current",
				"change", change.ID, "patch_set", ps.ID.Num, "current", change.CurrentPatchSet)
			continue
		}
		e := newPatchSetEvent(change, ps, revisionExists)
		if prevPS != nil {
			e.addDep(prevPS)
		}
		psEvents[ps.ID.Num] = e
		prevPS = e
		if ps.ID.Num > highestPS {
			highestPS = ps.ID.Num
		}
		events = append(events, e)
	}

	drafts := make(map[model.AccountID][]*draftCommentEvent)
	for _, c := range bundle.Comments {
		pse := psEvents[c.PatchSet.Num]
		if pse == nil {
			slog.Warn("dropping comment for missing patch set",
				"change", change.ID, "patch_set", c.PatchSet.Num, "comment", c.Key)
			continue
		}
		resolve := func() (string, error) { return pse.ps.Revision, nil }
		if c.Status == model.CommentDraft {
			e := newDraftCommentEvent(change, c, resolve)
			drafts[c.Author] = append(drafts[c.Author], e)
			continue
		}
		e := newCommentEvent(change, c, resolve)
		e.addDep(pse)
		events = append(events, e)
	}

	for _, a := range bundle.Approvals {
		pse := psEvents[a.PatchSet.Num]
		if pse == nil {
			slog.Warn("dropping approval for missing patch set",
				"change", change.ID, "patch_set", a.PatchSet.Num, "label", a.Label)
			continue
		}
		e := newApprovalEvent(change, a)
		e.addDep(pse)
		events = append(events, e)
	}

	shadow := newShadowChange()
	for _, m := range bundle.Messages {
		e := newMessageEvent(change, m, shadow)
		if m.PatchSet != nil {
			pse := psEvents[m.PatchSet.Num]
			if pse == nil {
				slog.Warn("dropping message for missing patch set",
					"change", change.ID, "patch_set", m.PatchSet.Num, "message", m.Key)
				continue
			}
			e.addDep(pse)
		}
		events = append(events, e)
	}

	for _, ru := range bundle.Reviewers {
		events = append(events, newReviewerEvent(change, ru))
	}

	final := newFinalEvent(change, shadow, highestPS)
	events = append(events, final)

	// Votes cast after the merge must sort after the event that merged.
	if final.IsSubmit() {
		for _, e := range events {
			if e.IsPostSubmitApproval() {
				e.meta().addDep(final)
			}
		}
	}

	sorted := sortEvents(events)
	sorted = r.ensureFirstCreatesChange(sorted, change, bundle)
	r.backfill(sorted, change, bundle)

	el := newEventList(r.opts.MaxDelta, r.opts.MaxWindow)
	for _, e := range sorted {
		if !el.canAdd(e) {
			if err := r.flush(mgr, el, change); err != nil {
				return err
			}
			invariant(el.canAdd(e), "%s event rejected by empty batch", e.Kind())
		}
		el.add(e)
	}
	if err := r.flush(mgr, el, change); err != nil {
		return err
	}

	return r.stageDrafts(mgr, change, drafts)
}

// hashtagEvents walks any previously written public history and turns each
// commit that recorded hashtags into an event, so the rebuilt history keeps
// them. Commits with unreadable footers are skipped silently: recovery is
// best effort by design of the footer format.
func (r *Rebuilder) hashtagEvents(ctx context.Context, mgr *notedb.UpdateManager, change *model.Change) ([]Event, error) {
	var events []Event
	err := mgr.WalkRef(ctx, notedb.MetaRef(change.ID), func(c *notedb.Commit) error {
		footers := c.Footers()
		tags, ok := notedb.HashtagsFromFooters(footers)
		if !ok {
			return nil
		}
		psNum, ok := notedb.PatchSetNumFromFooters(footers)
		if !ok || c.Author == 0 {
			slog.Debug("skipping unreadable hashtag commit",
				"change", change.ID, "commit", c.SHA)
			return nil
		}
		events = append(events, newHashtagsEvent(change, psNum, c.Author, c.WhenMillis, tags))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recover hashtags for change %d: %w", change.ID, err)
	}
	return events, nil
}

// deleteExistingRefs stages deletion of every ref the change owns, public
// and draft, so the rebuild starts from a clean slate.
func (r *Rebuilder) deleteExistingRefs(ctx context.Context, mgr *notedb.UpdateManager, change *model.Change) error {
	mgr.DeleteRef(notedb.MetaRef(change.ID))
	names, err := mgr.RefsByPrefix(ctx, notedb.DraftRefPrefix(change.ID))
	if err != nil {
		return fmt.Errorf("list draft refs for change %d: %w", change.ID, err)
	}
	for _, name := range names {
		mgr.DeleteRef(name)
	}
	return nil
}

// ensureFirstCreatesChange guarantees the first transaction of the rebuilt
// history opens the change. A first patch set event uploaded by the owner
// absorbs the role; otherwise a synthetic creation event is prepended.
func (r *Rebuilder) ensureFirstCreatesChange(sorted []Event, change *model.Change, bundle *model.Bundle) []Event {
	if pse, ok := sorted[0].(*patchSetEvent); ok && pse.who == change.Owner {
		pse.createChange = true
		return sorted
	}
	psNum := bundle.MinPatchSetNum()
	if psNum == 0 {
		psNum = 1
	}
	return append([]Event{newCreateChangeEvent(change, psNum)}, sorted...)
}

// backfill walks the sorted stream once, binding patch-set-independent
// events to the patch set current at their position and smoothing
// timestamps so the emitted history is non-decreasing even where dependency
// sorting reordered events.
func (r *Rebuilder) backfill(sorted []Event, change *model.Change, bundle *model.Bundle) {
	psNum := bundle.MinPatchSetNum()
	if psNum == 0 {
		psNum = 1
	}
	for i, e := range sorted {
		m := e.meta()
		if m.psID == nil {
			m.psID = &model.PatchSetID{Change: change.ID, Num: psNum}
		} else if m.psID.Num > psNum {
			psNum = m.psID.Num
		}
		if i > 0 {
			if prev := sorted[i-1].meta(); m.when.Before(prev.when) {
				m.when = prev.when
			}
		}
	}
}

// flush converts the pending batch into one staged public transaction.
func (r *Rebuilder) flush(mgr *notedb.UpdateManager, el *eventList, change *model.Change) error {
	if el.empty() {
		return nil
	}
	u := notedb.NewUpdate(change, el.author(), el.realAuthor(), el.when(), el.patchSetID(), el.tag())
	u.Window = r.opts.MaxWindow
	for _, e := range el.events {
		if err := e.Apply(u); err != nil {
			return err
		}
	}
	mgr.Add(u)
	el.clear()
	return nil
}

// stageDrafts batches each author's draft comments independently of the
// public stream and of every other author.
func (r *Rebuilder) stageDrafts(mgr *notedb.UpdateManager, change *model.Change, drafts map[model.AccountID][]*draftCommentEvent) error {
	authors := make([]model.AccountID, 0, len(drafts))
	for a := range drafts {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i] < authors[j] })

	for _, author := range authors {
		evs := drafts[author]
		sort.SliceStable(evs, func(i, j int) bool {
			return compareNatural(evs[i], evs[j]) < 0
		})
		el := newEventList(r.opts.MaxDelta, r.opts.MaxWindow)
		for _, e := range evs {
			if !el.canAdd(e) {
				if err := r.flushDraft(mgr, el, change); err != nil {
					return err
				}
			}
			el.add(e)
		}
		if err := r.flushDraft(mgr, el, change); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rebuilder) flushDraft(mgr *notedb.UpdateManager, el *eventList, change *model.Change) error {
	if el.empty() {
		return nil
	}
	d := notedb.NewDraftUpdate(change, el.author(), el.realAuthor(), el.when(), el.patchSetID())
	for _, e := range el.events {
		de, ok := e.(*draftCommentEvent)
		invariant(ok, "%s event in draft batch", e.Kind())
		if err := de.applyDraft(d); err != nil {
			return err
		}
	}
	mgr.AddDraft(d)
	el.clear()
	return nil
}

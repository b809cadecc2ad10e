package rebuild

import (
	"fmt"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// revisionExistsFunc reports whether a commit SHA is present in the note
// store for the change's project.
type revisionExistsFunc func(sha string) (bool, error)

// patchSetEvent records one uploaded revision. The first patch set event of
// a change doubles as the change-creation transaction when the uploader is
// the change owner.
type patchSetEvent struct {
	event
	change *model.Change
	ps     *model.PatchSet

	revisionExists revisionExistsFunc
	createChange   bool
}

func newPatchSetEvent(change *model.Change, ps *model.PatchSet, exists revisionExistsFunc) *patchSetEvent {
	psID := ps.ID
	return &patchSetEvent{
		event:          newEvent(KindPatchSet, &psID, ps.Uploader, 0, ps.CreatedOn, change, ""),
		change:         change,
		ps:             ps,
		revisionExists: exists,
	}
}

func (e *patchSetEvent) UniquePerUpdate() bool { return true }

func (e *patchSetEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	if e.createChange {
		u.CreateChange()
	} else {
		u.SetSubjectForCommit(fmt.Sprintf("Create patch set %d", e.ps.ID.Num))
		u.SetSubject(e.change.Subject)
	}
	exists, err := e.revisionExists(e.ps.Revision)
	if err != nil {
		return fmt.Errorf("resolve revision for patch set %s: %w", e.ps.ID, err)
	}
	if exists {
		u.SetCommit(e.ps.Revision, e.ps.PushCertificate)
	} else {
		// Old changes routinely reference garbage-collected commits; record
		// a placeholder instead of failing the whole change.
		u.SetRevisionForMissingCommit(e.ps.Revision, e.ps.PushCertificate)
	}
	if len(e.ps.Groups) > 0 {
		u.SetGroups(e.ps.Groups)
	}
	if e.ps.Draft {
		u.SetPatchSetDraft()
	}
	return nil
}

// approvalEvent records one vote on a patch set.
type approvalEvent struct {
	event
	approval *model.Approval
}

func newApprovalEvent(change *model.Change, a *model.Approval) *approvalEvent {
	psID := a.PatchSet
	return &approvalEvent{
		event:    newEvent(KindApproval, &psID, a.Account, a.RealAccount, a.Granted, change, a.Tag),
		approval: a,
	}
}

func (e *approvalEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	u.PutApproval(e.approval.Label, e.approval.Value)
	return nil
}

func (e *approvalEvent) IsPostSubmitApproval() bool { return e.approval.PostSubmit }

// resolveRevisionFunc lazily resolves the revision a comment was written
// against when the legacy row did not record one.
type resolveRevisionFunc func() (string, error)

// commentEvent records one published inline comment.
type commentEvent struct {
	event
	comment *model.Comment
	resolve resolveRevisionFunc
}

func newCommentEvent(change *model.Change, c *model.Comment, resolve resolveRevisionFunc) *commentEvent {
	psID := c.PatchSet
	return &commentEvent{
		event:   newEvent(KindComment, &psID, c.Author, c.RealAuthor, c.WrittenOn, change, c.Tag),
		comment: c,
		resolve: resolve,
	}
}

func (e *commentEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	c, err := e.resolved()
	if err != nil {
		return err
	}
	u.PutComment(c)
	return nil
}

func (e *commentEvent) resolved() (*model.Comment, error) {
	if e.comment.ParentRevision != "" {
		return e.comment, nil
	}
	rev, err := e.resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve revision for comment %s: %w", e.comment.Key, err)
	}
	c := *e.comment
	c.ParentRevision = rev
	return &c, nil
}

// draftCommentEvent records one unpublished comment. Drafts flow through
// the same batching rules as public events but flush to a per-author draft
// ref, so Apply on a public transaction is a pipeline bug.
type draftCommentEvent struct {
	event
	comment *model.Comment
	resolve resolveRevisionFunc
}

func newDraftCommentEvent(change *model.Change, c *model.Comment, resolve resolveRevisionFunc) *draftCommentEvent {
	psID := c.PatchSet
	return &draftCommentEvent{
		event:   newEvent(KindDraftComment, &psID, c.Author, c.RealAuthor, c.WrittenOn, change, c.Tag),
		comment: c,
		resolve: resolve,
	}
}

func (e *draftCommentEvent) Apply(u *notedb.NoteUpdate) error {
	invariant(false, "draft comment %s routed to the public stream", e.comment.Key)
	return nil
}

func (e *draftCommentEvent) applyDraft(d *notedb.DraftUpdate) error {
	c := e.comment
	if c.ParentRevision == "" {
		rev, err := e.resolve()
		if err != nil {
			return fmt.Errorf("resolve revision for draft comment %s: %w", c.Key, err)
		}
		cc := *c
		cc.ParentRevision = rev
		c = &cc
	}
	d.PutComment(c)
	return nil
}

// reviewerEvent records one reviewer-state transition. Reviewer rows carry
// no patch set; the event is bound to one during timestamp backfill.
type reviewerEvent struct {
	event
	update *model.ReviewerUpdate
}

func newReviewerEvent(change *model.Change, r *model.ReviewerUpdate) *reviewerEvent {
	return &reviewerEvent{
		event:  newEvent(KindReviewer, nil, r.Account, 0, r.Timestamp, change, ""),
		update: r,
	}
}

func (e *reviewerEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	u.PutReviewer(e.update.State, e.update.Account)
	return nil
}

// hashtagsEvent records a full hashtag set recovered from a previously
// written note commit. Hashtags were never modeled relationally, so prior
// note history is the only source.
type hashtagsEvent struct {
	event
	hashtags []string
}

func newHashtagsEvent(change *model.Change, psNum int, who model.AccountID, whenMillis int64, tags []string) *hashtagsEvent {
	psID := model.PatchSetID{Change: change.ID, Num: psNum}
	return &hashtagsEvent{
		event:    newEvent(KindHashtags, &psID, who, 0, millisToTime(whenMillis), change, ""),
		hashtags: tags,
	}
}

func (e *hashtagsEvent) UniquePerUpdate() bool { return true }

func (e *hashtagsEvent) Apply(u *notedb.NoteUpdate) error {
	e.checkUpdate(u)
	u.SetHashtags(e.hashtags)
	return nil
}

package notedb

import (
	"fmt"
	"strings"
	"time"

	"github.com/relogdev/relog/internal/model"
)

// NoteUpdate is one prepared transaction against a change's public meta ref.
//
// The identity fields (Author, RealAuthor, When, PatchSet, Tag) are shared
// by every event folded into the transaction; the batching layer guarantees
// that before handing events to Apply. Mutations accumulate in call order
// and render as commit footers in that order.
type NoteUpdate struct {
	Change     *model.Change
	Author     model.AccountID
	RealAuthor model.AccountID
	When       time.Time
	PatchSet   model.PatchSetID
	Tag        string

	// Window is the maximum distance an applied event's timestamp may sit
	// past When. The batching layer sets it to the configured batch window.
	Window time.Duration

	subjectForCommit string
	message          string
	footers          []Footer
}

// NewUpdate creates an empty public transaction for one change.
func NewUpdate(change *model.Change, author, realAuthor model.AccountID, when time.Time, psID model.PatchSetID, tag string) *NoteUpdate {
	return &NoteUpdate{
		Change:     change,
		Author:     author,
		RealAuthor: realAuthor,
		When:       when,
		PatchSet:   psID,
		Tag:        tag,
		Window:     3 * time.Second,
	}
}

// IsEmpty reports whether the update carries no mutations at all. Empty
// updates are dropped at staging time rather than written as no-op commits.
func (u *NoteUpdate) IsEmpty() bool {
	return len(u.footers) == 0 && u.message == "" && u.subjectForCommit == ""
}

func (u *NoteUpdate) addFooter(key, value string) {
	u.footers = append(u.footers, Footer{Key: key, Value: value})
}

// SetSubjectForCommit overrides the commit's first line.
func (u *NoteUpdate) SetSubjectForCommit(s string) { u.subjectForCommit = s }

// SetChangeMessage records the free-text body of the transaction.
func (u *NoteUpdate) SetChangeMessage(msg string) { u.message = msg }

// CreateChange records the footers that open a change's history: the
// destination branch, the external change key, and the original subject.
func (u *NoteUpdate) CreateChange() {
	u.SetSubjectForCommit("Create change")
	u.addFooter(FooterBranch, u.Change.Branch)
	u.addFooter(FooterChangeID, u.Change.Key)
	u.addFooter(FooterSubject, u.Change.OriginalSubject)
}

// SetSubject records the change subject as of this update.
func (u *NoteUpdate) SetSubject(s string) { u.addFooter(FooterSubject, s) }

// SetCommit records the uploaded revision this patch set points at.
func (u *NoteUpdate) SetCommit(sha, pushCert string) {
	u.addFooter(FooterCommit, sha)
	_ = pushCert // certificates are recorded out of band; kept for parity with the legacy rows
}

// SetRevisionForMissingCommit records a placeholder for a patch set whose
// commit is absent from the repository. The rebuild must not fail on these:
// old changes routinely reference garbage-collected revisions.
func (u *NoteUpdate) SetRevisionForMissingCommit(rev, pushCert string) {
	u.addFooter(FooterMissingCommit, rev)
	_ = pushCert
}

// SetGroups records the patch set's group identifiers.
func (u *NoteUpdate) SetGroups(groups []string) {
	u.addFooter(FooterGroups, strings.Join(groups, ","))
}

// SetPatchSetDraft marks the patch set as a draft upload.
func (u *NoteUpdate) SetPatchSetDraft() {
	u.addFooter(FooterPatchSetState, "draft")
}

// PutApproval records one vote. Multiple votes may coexist in a single
// transaction.
func (u *NoteUpdate) PutApproval(label string, value int) {
	u.addFooter(FooterLabel, fmt.Sprintf("%s=%+d", label, value))
}

// PutReviewer records a reviewer-state transition.
func (u *NoteUpdate) PutReviewer(state model.ReviewerState, acct model.AccountID) {
	key := FooterReviewer
	switch state {
	case model.ReviewerCC:
		key = FooterCC
	case model.ReviewerRemoved:
		key = FooterRemoved
	}
	u.addFooter(key, fmt.Sprintf("%d", acct))
}

// PutComment records one published inline comment.
func (u *NoteUpdate) PutComment(c *model.Comment) {
	u.addFooter(FooterComment, renderComment(c))
}

// SetTopic records the change topic. An empty topic clears it.
func (u *NoteUpdate) SetTopic(topic string) { u.addFooter(FooterTopic, topic) }

// SetStatus records a status transition observed in the history.
func (u *NoteUpdate) SetStatus(s model.Status) { u.addFooter(FooterStatus, s.String()) }

// FixStatus reconciles the recorded status with the authoritative one. It
// renders identically to SetStatus; the distinction only matters to the
// terminal event's bookkeeping.
func (u *NoteUpdate) FixStatus(s model.Status) { u.SetStatus(s) }

// SetSubmissionID records the submission that merged the change.
func (u *NoteUpdate) SetSubmissionID(id string) { u.addFooter(FooterSubmissionID, id) }

// SetAssignee records the change assignee.
func (u *NoteUpdate) SetAssignee(acct model.AccountID) {
	u.addFooter(FooterAssignee, fmt.Sprintf("%d", acct))
}

// SetCurrentPatchSet records the current-patch-set pointer.
func (u *NoteUpdate) SetCurrentPatchSet(num int) {
	u.addFooter(FooterCurrentPatchSet, fmt.Sprintf("%d", num))
}

// SetHashtags records the full hashtag set as of this update.
func (u *NoteUpdate) SetHashtags(tags []string) {
	u.addFooter(FooterHashtags, renderHashtags(tags))
}

// render produces the full commit message for this update.
func (u *NoteUpdate) render() string {
	subject := u.subjectForCommit
	if subject == "" {
		subject = fmt.Sprintf("Update patch set %d", u.PatchSet.Num)
	}
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")
	if u.message != "" {
		b.WriteString(strings.TrimRight(u.message, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(renderFooter(FooterPatchSet, fmt.Sprintf("%d", u.PatchSet.Num)))
	for _, f := range u.footers {
		b.WriteString(renderFooter(f.Key, f.Value))
	}
	if u.Tag != "" {
		b.WriteString(renderFooter(FooterTag, u.Tag))
	}
	return b.String()
}

func renderComment(c *model.Comment) string {
	rev := c.ParentRevision
	if rev == "" {
		rev = "-"
	}
	return fmt.Sprintf("%s:%d@%s %s", c.File, c.Line, rev, c.Key)
}

// DraftUpdate is one prepared transaction against a single author's private
// draft ref. Drafts never mix with the public stream and never mix authors.
type DraftUpdate struct {
	Change     *model.Change
	Author     model.AccountID
	RealAuthor model.AccountID
	When       time.Time
	PatchSet   model.PatchSetID

	comments []*model.Comment
}

// NewDraftUpdate creates an empty draft transaction for one author.
func NewDraftUpdate(change *model.Change, author, realAuthor model.AccountID, when time.Time, psID model.PatchSetID) *DraftUpdate {
	return &DraftUpdate{
		Change:     change,
		Author:     author,
		RealAuthor: realAuthor,
		When:       when,
		PatchSet:   psID,
	}
}

// IsEmpty reports whether the draft update carries no comments.
func (d *DraftUpdate) IsEmpty() bool { return len(d.comments) == 0 }

// PutComment records one draft comment.
func (d *DraftUpdate) PutComment(c *model.Comment) { d.comments = append(d.comments, c) }

func (d *DraftUpdate) render() string {
	var b strings.Builder
	b.WriteString("Update draft comments\n\n")
	b.WriteString(renderFooter(FooterPatchSet, fmt.Sprintf("%d", d.PatchSet.Num)))
	for _, c := range d.comments {
		b.WriteString(renderFooter(FooterComment, renderComment(c)))
	}
	return b.String()
}

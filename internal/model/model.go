// Package model defines the legacy review database row types and the Bundle
// snapshot consumed by the rebuild pipeline.
//
// These types mirror the relational schema one-to-one. They carry no
// behavior beyond identity helpers; all interpretation happens in the
// rebuild package.
package model

import (
	"fmt"
	"time"
)

// ChangeID identifies one change (the reviewable unit).
type ChangeID int64

// AccountID identifies a user account. Zero means "no account"
// (e.g. server-generated messages or an unset assignee).
type AccountID int64

// PatchSetID identifies one uploaded revision of a change.
type PatchSetID struct {
	Change ChangeID
	Num    int
}

func (id PatchSetID) String() string {
	return fmt.Sprintf("%d/%d", id.Change, id.Num)
}

// Status is the lifecycle state of a change.
type Status int

const (
	StatusNew Status = iota
	StatusAbandoned
	StatusMerged
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusAbandoned:
		return "abandoned"
	case StatusMerged:
		return "merged"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "new":
		return StatusNew, nil
	case "abandoned":
		return StatusAbandoned, nil
	case "merged":
		return StatusMerged, nil
	default:
		return 0, fmt.Errorf("unknown change status %q", s)
	}
}

// Change is one row of the changes table. Read-only input to the rebuild;
// the pipeline never mutates the authoritative copy.
type Change struct {
	ID              ChangeID
	Key             string // external Change-Id footer value
	Project         string
	Branch          string
	Owner           AccountID
	Subject         string
	OriginalSubject string
	CreatedOn       time.Time
	LastUpdatedOn   time.Time
	Status          Status
	CurrentPatchSet int
	Topic           string
	Assignee        AccountID
	SubmissionID    string

	// NoteDbState is the reconstruction progress marker, updated via
	// compare-and-swap. Empty means the change has never been rebuilt.
	NoteDbState string
}

// CurrentPatchSetID returns the ID of the change's current patch set.
func (c *Change) CurrentPatchSetID() PatchSetID {
	return PatchSetID{Change: c.ID, Num: c.CurrentPatchSet}
}

// PatchSet is one uploaded revision.
type PatchSet struct {
	ID              PatchSetID
	Uploader        AccountID
	CreatedOn       time.Time
	Revision        string // commit SHA-1 as recorded in the legacy store
	PushCertificate string
	Groups          []string
	Draft           bool
}

// Approval is one vote on one patch set.
type Approval struct {
	PatchSet    PatchSetID
	Account     AccountID
	RealAccount AccountID // zero when the vote was not impersonated
	Label       string
	Value       int
	Granted     time.Time
	Tag         string
	PostSubmit  bool // vote was cast after the change merged
}

// CommentStatus distinguishes published comments from per-author drafts.
type CommentStatus int

const (
	CommentPublished CommentStatus = iota
	CommentDraft
)

// Comment is one inline comment, published or draft.
type Comment struct {
	Key        string // UUID from the legacy store
	PatchSet   PatchSetID
	Author     AccountID
	RealAuthor AccountID
	WrittenOn  time.Time
	File       string
	Line       int
	Side       int
	Message    string
	Status     CommentStatus
	Tag        string

	// ParentRevision is the commit the comment was written against. May be
	// empty in old rows; resolved lazily when the comment is applied.
	ParentRevision string
}

// Message is one free-text change message.
type Message struct {
	Key        string
	Author     AccountID // zero for server-generated messages
	RealAuthor AccountID
	WrittenOn  time.Time
	Message    string
	PatchSet   *PatchSetID // nil when the message is not tied to a patch set
	Tag        string
}

// ReviewerState is the reviewer relationship recorded by a transition row.
type ReviewerState int

const (
	ReviewerReviewer ReviewerState = iota
	ReviewerCC
	ReviewerRemoved
)

func (s ReviewerState) String() string {
	switch s {
	case ReviewerReviewer:
		return "REVIEWER"
	case ReviewerCC:
		return "CC"
	case ReviewerRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("reviewerstate(%d)", int(s))
	}
}

// ReviewerUpdate is one reviewer-state transition.
type ReviewerUpdate struct {
	Account   AccountID
	State     ReviewerState
	Timestamp time.Time
}

// Bundle is an immutable snapshot of all relational rows for one change,
// read inside a single transaction so the view is consistent.
type Bundle struct {
	Change    *Change
	PatchSets []*PatchSet
	Approvals []*Approval
	Comments  []*Comment
	Messages  []*Message
	Reviewers []*ReviewerUpdate
}

// MinPatchSetNum returns the lowest patch set number present, or 0 when the
// bundle has no patch sets at all (a degenerate, likely-corrupt change).
func (b *Bundle) MinPatchSetNum() int {
	min := 0
	for _, ps := range b.PatchSets {
		if min == 0 || ps.ID.Num < min {
			min = ps.ID.Num
		}
	}
	return min
}

package reviewdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/relogdev/relog/internal/model"
)

// SetNoteDbState attempts to advance a change's state marker from old to
// new with a single conditional UPDATE, the row-level equivalent of a
// compare-and-swap. It reports:
//
//   - applied=true when the marker was exactly old and is now new;
//   - applied=false plus the marker's current value when another writer got
//     there first. The caller decides whether the race was an identical
//     rebuild (current == new) or a conflicting one.
//
// An empty string means "never rebuilt" and matches a NULL column.
func (s *Store) SetNoteDbState(ctx context.Context, id model.ChangeID, old, new string) (applied bool, current string, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE changes SET note_db_state = ?
		WHERE change_id = ? AND note_db_state IS ?`,
		nullIfEmpty(new), int64(id), nullIfEmpty(old))
	if err != nil {
		return false, "", fmt.Errorf("set note-db state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("set note-db state: rows affected: %w", err)
	}
	if n > 0 {
		return true, new, nil
	}

	var cur sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT note_db_state FROM changes WHERE change_id = ?`, int64(id)).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", ErrChangeNotFound
	}
	if err != nil {
		return false, "", fmt.Errorf("read note-db state: %w", err)
	}
	return false, cur.String, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// The insert helpers below exist for fixtures and tests; production rows
// come from the legacy system itself. Inserts are idempotent on primary key
// so fixture loading can be replayed.

// InsertChange writes one change row.
func (s *Store) InsertChange(ctx context.Context, c *model.Change) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changes
		(change_id, change_key, project, branch, owner, subject, original_subject,
		 created_on, last_updated_on, status, current_ps, topic, assignee,
		 submission_id, note_db_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(change_id) DO NOTHING`,
		int64(c.ID), c.Key, c.Project, c.Branch, int64(c.Owner), c.Subject,
		c.OriginalSubject, c.CreatedOn.UnixMilli(), c.LastUpdatedOn.UnixMilli(),
		c.Status.String(), c.CurrentPatchSet, c.Topic, int64(c.Assignee),
		c.SubmissionID, nullIfEmpty(c.NoteDbState))
	if err != nil {
		return fmt.Errorf("insert change %d: %w", c.ID, err)
	}
	return nil
}

// InsertPatchSet writes one patch set row.
func (s *Store) InsertPatchSet(ctx context.Context, ps *model.PatchSet) error {
	draft := 0
	if ps.Draft {
		draft = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patch_sets
		(change_id, ps_num, uploader, created_on, revision, push_certificate, groups, draft)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(change_id, ps_num) DO NOTHING`,
		int64(ps.ID.Change), ps.ID.Num, int64(ps.Uploader), ps.CreatedOn.UnixMilli(),
		ps.Revision, ps.PushCertificate, strings.Join(ps.Groups, ","), draft)
	if err != nil {
		return fmt.Errorf("insert patch set %s: %w", ps.ID, err)
	}
	return nil
}

// InsertApproval writes one approval row.
func (s *Store) InsertApproval(ctx context.Context, a *model.Approval) error {
	postSubmit := 0
	if a.PostSubmit {
		postSubmit = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals
		(change_id, ps_num, account, real_account, label, value, granted, tag, post_submit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(change_id, ps_num, account, label) DO NOTHING`,
		int64(a.PatchSet.Change), a.PatchSet.Num, int64(a.Account), int64(a.RealAccount),
		a.Label, a.Value, a.Granted.UnixMilli(), a.Tag, postSubmit)
	if err != nil {
		return fmt.Errorf("insert approval %s/%s: %w", a.PatchSet, a.Label, err)
	}
	return nil
}

// InsertComment writes one comment row.
func (s *Store) InsertComment(ctx context.Context, c *model.Comment) error {
	status := "published"
	if c.Status == model.CommentDraft {
		status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments
		(comment_key, change_id, ps_num, author, real_author, written_on, file,
		 line, side, message, status, tag, parent_revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(comment_key) DO NOTHING`,
		c.Key, int64(c.PatchSet.Change), c.PatchSet.Num, int64(c.Author),
		int64(c.RealAuthor), c.WrittenOn.UnixMilli(), c.File, c.Line, c.Side,
		c.Message, status, c.Tag, c.ParentRevision)
	if err != nil {
		return fmt.Errorf("insert comment %s: %w", c.Key, err)
	}
	return nil
}

// InsertMessage writes one change message row.
func (s *Store) InsertMessage(ctx context.Context, id model.ChangeID, m *model.Message) error {
	var psNum any
	if m.PatchSet != nil {
		psNum = m.PatchSet.Num
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_messages
		(message_key, change_id, author, real_author, written_on, message, ps_num, tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_key) DO NOTHING`,
		m.Key, int64(id), int64(m.Author), int64(m.RealAuthor),
		m.WrittenOn.UnixMilli(), m.Message, psNum, m.Tag)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.Key, err)
	}
	return nil
}

// InsertReviewer writes one reviewer-state transition row.
func (s *Store) InsertReviewer(ctx context.Context, id model.ChangeID, r *model.ReviewerUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviewers (change_id, account, state, ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(change_id, account, state) DO NOTHING`,
		int64(id), int64(r.Account), r.State.String(), r.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert reviewer %d: %w", r.Account, err)
	}
	return nil
}

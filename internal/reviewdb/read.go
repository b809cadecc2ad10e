package reviewdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relogdev/relog/internal/model"
)

// ErrChangeNotFound is returned when the requested change does not exist.
var ErrChangeNotFound = errors.New("change not found")

// ReadChange loads one change row.
func (s *Store) ReadChange(ctx context.Context, id model.ChangeID) (*model.Change, error) {
	return scanChange(s.db.QueryRowContext(ctx, `
		SELECT change_id, change_key, project, branch, owner, subject,
		       original_subject, created_on, last_updated_on, status,
		       current_ps, topic, assignee, submission_id, note_db_state
		FROM changes WHERE change_id = ?`, int64(id)))
}

// ListChangeIDs returns every change ID in ascending order. Used by the
// site-wide migrator to enumerate work.
func (s *Store) ListChangeIDs(ctx context.Context) ([]model.ChangeID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT change_id FROM changes ORDER BY change_id`)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var ids []model.ChangeID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan change id: %w", err)
		}
		ids = append(ids, model.ChangeID(id))
	}
	return ids, rows.Err()
}

// ReadBundle reads all rows for one change inside a single transaction so
// the snapshot is consistent even while other writers are active.
func (s *Store) ReadBundle(ctx context.Context, id model.ChangeID) (*model.Bundle, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("read bundle: begin tx: %w", err)
	}
	defer tx.Rollback()

	change, err := scanChange(tx.QueryRowContext(ctx, `
		SELECT change_id, change_key, project, branch, owner, subject,
		       original_subject, created_on, last_updated_on, status,
		       current_ps, topic, assignee, submission_id, note_db_state
		FROM changes WHERE change_id = ?`, int64(id)))
	if err != nil {
		return nil, err
	}

	b := &model.Bundle{Change: change}
	if b.PatchSets, err = readPatchSets(ctx, tx, id); err != nil {
		return nil, err
	}
	if b.Approvals, err = readApprovals(ctx, tx, id); err != nil {
		return nil, err
	}
	if b.Comments, err = readComments(ctx, tx, id); err != nil {
		return nil, err
	}
	if b.Messages, err = readMessages(ctx, tx, id); err != nil {
		return nil, err
	}
	if b.Reviewers, err = readReviewers(ctx, tx, id); err != nil {
		return nil, err
	}
	return b, tx.Commit()
}

func scanChange(row *sql.Row) (*model.Change, error) {
	var (
		c                    model.Change
		id, owner, assignee  int64
		created, updated     int64
		status               string
		noteDbState          sql.NullString
	)
	err := row.Scan(&id, &c.Key, &c.Project, &c.Branch, &owner, &c.Subject,
		&c.OriginalSubject, &created, &updated, &status,
		&c.CurrentPatchSet, &c.Topic, &assignee, &c.SubmissionID, &noteDbState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan change: %w", err)
	}
	c.ID = model.ChangeID(id)
	c.Owner = model.AccountID(owner)
	c.Assignee = model.AccountID(assignee)
	c.CreatedOn = time.UnixMilli(created).UTC()
	c.LastUpdatedOn = time.UnixMilli(updated).UTC()
	c.NoteDbState = noteDbState.String
	if c.Status, err = model.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("change %d: %w", id, err)
	}
	return &c, nil
}

func readPatchSets(ctx context.Context, tx *sql.Tx, id model.ChangeID) ([]*model.PatchSet, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT ps_num, uploader, created_on, revision, push_certificate, groups, draft
		FROM patch_sets WHERE change_id = ? ORDER BY ps_num`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("read patch sets: %w", err)
	}
	defer rows.Close()

	var out []*model.PatchSet
	for rows.Next() {
		var (
			ps       model.PatchSet
			uploader int64
			created  int64
			groups   string
			draft    int
		)
		if err := rows.Scan(&ps.ID.Num, &uploader, &created, &ps.Revision,
			&ps.PushCertificate, &groups, &draft); err != nil {
			return nil, fmt.Errorf("scan patch set: %w", err)
		}
		ps.ID.Change = id
		ps.Uploader = model.AccountID(uploader)
		ps.CreatedOn = time.UnixMilli(created).UTC()
		ps.Draft = draft != 0
		if groups != "" {
			ps.Groups = strings.Split(groups, ",")
		}
		out = append(out, &ps)
	}
	return out, rows.Err()
}

func readApprovals(ctx context.Context, tx *sql.Tx, id model.ChangeID) ([]*model.Approval, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT ps_num, account, real_account, label, value, granted, tag, post_submit
		FROM approvals WHERE change_id = ? ORDER BY granted, account, label`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("read approvals: %w", err)
	}
	defer rows.Close()

	var out []*model.Approval
	for rows.Next() {
		var (
			a             model.Approval
			account, real int64
			granted       int64
			postSubmit    int
		)
		if err := rows.Scan(&a.PatchSet.Num, &account, &real, &a.Label,
			&a.Value, &granted, &a.Tag, &postSubmit); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		a.PatchSet.Change = id
		a.Account = model.AccountID(account)
		a.RealAccount = model.AccountID(real)
		a.Granted = time.UnixMilli(granted).UTC()
		a.PostSubmit = postSubmit != 0
		out = append(out, &a)
	}
	return out, rows.Err()
}

func readComments(ctx context.Context, tx *sql.Tx, id model.ChangeID) ([]*model.Comment, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT comment_key, ps_num, author, real_author, written_on, file,
		       line, side, message, status, tag, parent_revision
		FROM comments WHERE change_id = ? ORDER BY written_on, comment_key`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	defer rows.Close()

	var out []*model.Comment
	for rows.Next() {
		var (
			c            model.Comment
			author, real int64
			written      int64
			status       string
		)
		if err := rows.Scan(&c.Key, &c.PatchSet.Num, &author, &real, &written,
			&c.File, &c.Line, &c.Side, &c.Message, &status, &c.Tag, &c.ParentRevision); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		c.PatchSet.Change = id
		c.Author = model.AccountID(author)
		c.RealAuthor = model.AccountID(real)
		c.WrittenOn = time.UnixMilli(written).UTC()
		switch status {
		case "draft":
			c.Status = model.CommentDraft
		default:
			c.Status = model.CommentPublished
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func readMessages(ctx context.Context, tx *sql.Tx, id model.ChangeID) ([]*model.Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT message_key, author, real_author, written_on, message, ps_num, tag
		FROM change_messages WHERE change_id = ? ORDER BY written_on, message_key`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var (
			m            model.Message
			author, real int64
			written      int64
			psNum        sql.NullInt64
		)
		if err := rows.Scan(&m.Key, &author, &real, &written, &m.Message, &psNum, &m.Tag); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Author = model.AccountID(author)
		m.RealAuthor = model.AccountID(real)
		m.WrittenOn = time.UnixMilli(written).UTC()
		if psNum.Valid {
			m.PatchSet = &model.PatchSetID{Change: id, Num: int(psNum.Int64)}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func readReviewers(ctx context.Context, tx *sql.Tx, id model.ChangeID) ([]*model.ReviewerUpdate, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT account, state, ts
		FROM reviewers WHERE change_id = ? ORDER BY ts, account`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("read reviewers: %w", err)
	}
	defer rows.Close()

	var out []*model.ReviewerUpdate
	for rows.Next() {
		var (
			r       model.ReviewerUpdate
			account int64
			ts      int64
			state   string
		)
		if err := rows.Scan(&account, &state, &ts); err != nil {
			return nil, fmt.Errorf("scan reviewer: %w", err)
		}
		r.Account = model.AccountID(account)
		r.Timestamp = time.UnixMilli(ts).UTC()
		switch state {
		case "CC":
			r.State = model.ReviewerCC
		case "REMOVED":
			r.State = model.ReviewerRemoved
		default:
			r.State = model.ReviewerReviewer
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

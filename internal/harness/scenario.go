package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/testutil"
)

// Scenario describes one change's relational rows. All timestamps are
// millisecond offsets from testutil.Epoch so fixtures stay readable and
// transcripts deterministic.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Change     ChangeRow      `yaml:"change"`
	PatchSets  []PatchSetRow  `yaml:"patch_sets,omitempty"`
	Approvals  []ApprovalRow  `yaml:"approvals,omitempty"`
	Comments   []CommentRow   `yaml:"comments,omitempty"`
	Messages   []MessageRow   `yaml:"messages,omitempty"`
	Reviewers  []ReviewerRow  `yaml:"reviewers,omitempty"`
}

// ChangeRow mirrors one changes-table row.
type ChangeRow struct {
	ID              int64  `yaml:"id"`
	Key             string `yaml:"key"`
	Project         string `yaml:"project"`
	Branch          string `yaml:"branch"`
	Owner           int64  `yaml:"owner"`
	Subject         string `yaml:"subject"`
	OriginalSubject string `yaml:"original_subject,omitempty"`
	CreatedOn       int64  `yaml:"created_on"`
	LastUpdatedOn   int64  `yaml:"last_updated_on"`
	Status          string `yaml:"status"`
	CurrentPS       int    `yaml:"current_ps"`
	Topic           string `yaml:"topic,omitempty"`
	Assignee        int64  `yaml:"assignee,omitempty"`
	SubmissionID    string `yaml:"submission_id,omitempty"`
}

// PatchSetRow mirrors one patch_sets-table row.
type PatchSetRow struct {
	Num       int      `yaml:"num"`
	Uploader  int64    `yaml:"uploader"`
	CreatedOn int64    `yaml:"created_on"`
	Revision  string   `yaml:"revision"`
	Groups    []string `yaml:"groups,omitempty"`
	Draft     bool     `yaml:"draft,omitempty"`
}

// ApprovalRow mirrors one approvals-table row.
type ApprovalRow struct {
	PS         int    `yaml:"ps"`
	Account    int64  `yaml:"account"`
	Real       int64  `yaml:"real,omitempty"`
	Label      string `yaml:"label"`
	Value      int    `yaml:"value"`
	Granted    int64  `yaml:"granted"`
	Tag        string `yaml:"tag,omitempty"`
	PostSubmit bool   `yaml:"post_submit,omitempty"`
}

// CommentRow mirrors one comments-table row.
type CommentRow struct {
	Key       string `yaml:"key"`
	PS        int    `yaml:"ps"`
	Author    int64  `yaml:"author"`
	WrittenOn int64  `yaml:"written_on"`
	File      string `yaml:"file"`
	Line      int    `yaml:"line,omitempty"`
	Message   string `yaml:"message"`
	Status    string `yaml:"status,omitempty"` // "published" (default) or "draft"
}

// MessageRow mirrors one change_messages-table row.
type MessageRow struct {
	Key       string `yaml:"key"`
	Author    int64  `yaml:"author,omitempty"`
	WrittenOn int64  `yaml:"written_on"`
	Message   string `yaml:"message"`
	PS        int    `yaml:"ps,omitempty"` // 0 means not tied to a patch set
	Tag       string `yaml:"tag,omitempty"`
}

// ReviewerRow mirrors one reviewers-table row.
type ReviewerRow struct {
	Account int64  `yaml:"account"`
	State   string `yaml:"state"` // REVIEWER, CC, REMOVED
	TS      int64  `yaml:"ts"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos in fixtures fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Description == "" {
		return fmt.Errorf("description is required")
	}
	if sc.Change.ID <= 0 {
		return fmt.Errorf("change.id must be positive")
	}
	if sc.Change.Project == "" {
		return fmt.Errorf("change.project is required")
	}
	if _, err := model.ParseStatus(sc.Change.Status); err != nil {
		return err
	}
	for i, r := range sc.Reviewers {
		switch r.State {
		case "REVIEWER", "CC", "REMOVED":
		default:
			return fmt.Errorf("reviewers[%d]: unknown state %q", i, r.State)
		}
	}
	for i, c := range sc.Comments {
		switch c.Status {
		case "", "published", "draft":
		default:
			return fmt.Errorf("comments[%d]: unknown status %q", i, c.Status)
		}
	}
	return nil
}

// Bundle converts the scenario rows to model types.
func (sc *Scenario) Bundle() (*model.Bundle, error) {
	status, err := model.ParseStatus(sc.Change.Status)
	if err != nil {
		return nil, err
	}
	changeID := model.ChangeID(sc.Change.ID)
	b := &model.Bundle{
		Change: &model.Change{
			ID:              changeID,
			Key:             sc.Change.Key,
			Project:         sc.Change.Project,
			Branch:          sc.Change.Branch,
			Owner:           model.AccountID(sc.Change.Owner),
			Subject:         sc.Change.Subject,
			OriginalSubject: sc.Change.OriginalSubject,
			CreatedOn:       testutil.At(sc.Change.CreatedOn),
			LastUpdatedOn:   testutil.At(sc.Change.LastUpdatedOn),
			Status:          status,
			CurrentPatchSet: sc.Change.CurrentPS,
			Topic:           sc.Change.Topic,
			Assignee:        model.AccountID(sc.Change.Assignee),
			SubmissionID:    sc.Change.SubmissionID,
		},
	}
	if b.Change.OriginalSubject == "" {
		b.Change.OriginalSubject = b.Change.Subject
	}
	for _, ps := range sc.PatchSets {
		b.PatchSets = append(b.PatchSets, &model.PatchSet{
			ID:        model.PatchSetID{Change: changeID, Num: ps.Num},
			Uploader:  model.AccountID(ps.Uploader),
			CreatedOn: testutil.At(ps.CreatedOn),
			Revision:  ps.Revision,
			Groups:    ps.Groups,
			Draft:     ps.Draft,
		})
	}
	for _, a := range sc.Approvals {
		b.Approvals = append(b.Approvals, &model.Approval{
			PatchSet:    model.PatchSetID{Change: changeID, Num: a.PS},
			Account:     model.AccountID(a.Account),
			RealAccount: model.AccountID(a.Real),
			Label:       a.Label,
			Value:       a.Value,
			Granted:     testutil.At(a.Granted),
			Tag:         a.Tag,
			PostSubmit:  a.PostSubmit,
		})
	}
	for _, c := range sc.Comments {
		status := model.CommentPublished
		if c.Status == "draft" {
			status = model.CommentDraft
		}
		b.Comments = append(b.Comments, &model.Comment{
			Key:       c.Key,
			PatchSet:  model.PatchSetID{Change: changeID, Num: c.PS},
			Author:    model.AccountID(c.Author),
			WrittenOn: testutil.At(c.WrittenOn),
			File:      c.File,
			Line:      c.Line,
			Message:   c.Message,
			Status:    status,
		})
	}
	for _, m := range sc.Messages {
		msg := &model.Message{
			Key:       m.Key,
			Author:    model.AccountID(m.Author),
			WrittenOn: testutil.At(m.WrittenOn),
			Message:   m.Message,
			Tag:       m.Tag,
		}
		if m.PS > 0 {
			msg.PatchSet = &model.PatchSetID{Change: changeID, Num: m.PS}
		}
		b.Messages = append(b.Messages, msg)
	}
	for _, r := range sc.Reviewers {
		state := model.ReviewerReviewer
		switch r.State {
		case "CC":
			state = model.ReviewerCC
		case "REMOVED":
			state = model.ReviewerRemoved
		}
		b.Reviewers = append(b.Reviewers, &model.ReviewerUpdate{
			Account:   model.AccountID(r.Account),
			State:     state,
			Timestamp: testutil.At(r.TS),
		})
	}
	return b, nil
}

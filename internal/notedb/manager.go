package notedb

import (
	"context"
	"fmt"
	"sort"

	"github.com/relogdev/relog/internal/model"
)

// UpdateManager accumulates prepared transactions and ref deletions for one
// project, then stages and executes them as a unit.
//
// Staging is pure computation: it derives the would-be commit chain for
// every touched ref and the resulting state marker, without writing.
// Execute applies the staged writes in one database transaction. The split
// exists so callers can claim the state marker (compare-and-swap in the
// relational store) between staging and the physical write.
type UpdateManager struct {
	store   *Store
	project string
	tokens  TokenGenerator

	updates []*NoteUpdate
	drafts  []*DraftUpdate
	deletes map[string]bool

	staged     *Result
	stagedRefs []*stagedRef
}

// Result describes one staged (and possibly executed) rebuild.
type Result struct {
	// RunToken identifies this staging run in logs.
	RunToken string

	// Change is the change the staged transactions belong to.
	Change model.ChangeID

	// State is the new state marker value implied by the staged writes.
	State string

	// MetaSHA is the staged head of the public meta ref.
	MetaSHA string

	// DraftSHAs maps each draft author to the staged head of their ref.
	DraftSHAs map[model.AccountID]string

	// Fresh is true when this run physically published the writes, false
	// when a concurrent identical rebuild won the race and publishing was
	// skipped.
	Fresh bool
}

// NewUpdateManager opens a manager for a project. A nil generator defaults
// to time-sortable UUIDv7 run tokens.
func NewUpdateManager(store *Store, project string, tokens TokenGenerator) *UpdateManager {
	if tokens == nil {
		tokens = UUIDv7Generator{}
	}
	return &UpdateManager{
		store:   store,
		project: project,
		tokens:  tokens,
		deletes: map[string]bool{},
	}
}

// Store exposes the underlying note store for read access (revision
// resolution, hashtag recovery).
func (m *UpdateManager) Store() *Store { return m.store }

// Project returns the project this manager writes to.
func (m *UpdateManager) Project() string { return m.project }

// Add stages one public transaction. Empty updates are dropped.
func (m *UpdateManager) Add(u *NoteUpdate) {
	if u.IsEmpty() {
		return
	}
	m.invalidate()
	m.updates = append(m.updates, u)
}

// AddDraft stages one per-author draft transaction. Empty updates are dropped.
func (m *UpdateManager) AddDraft(d *DraftUpdate) {
	if d.IsEmpty() {
		return
	}
	m.invalidate()
	m.drafts = append(m.drafts, d)
}

// DeleteRef stages deletion of a ref. A ref that is deleted and then
// written to is rebuilt from scratch rather than appended to.
func (m *UpdateManager) DeleteRef(name string) {
	m.invalidate()
	m.deletes[name] = true
}

// WalkRef visits existing commits on a ref, head first.
func (m *UpdateManager) WalkRef(ctx context.Context, name string, fn func(*Commit) error) error {
	return m.store.WalkRef(ctx, m.project, name, fn)
}

// RefsByPrefix lists existing refs under a prefix.
func (m *UpdateManager) RefsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	return m.store.RefsByPrefix(ctx, m.project, prefix)
}

func (m *UpdateManager) invalidate() {
	m.staged = nil
	m.stagedRefs = nil
}

// Stage computes the staged commit chains and resulting state marker.
// Idempotent until the staged set changes.
func (m *UpdateManager) Stage(ctx context.Context) (*Result, error) {
	if m.staged != nil {
		return m.staged, nil
	}
	changeID, err := m.stagedChange()
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunToken:  m.tokens.Generate(),
		Change:    changeID,
		DraftSHAs: map[model.AccountID]string{},
	}
	var refs []*stagedRef
	written := map[string]bool{}

	// Public stream: one chain on the meta ref.
	if len(m.updates) > 0 {
		metaRef := MetaRef(changeID)
		chain, err := m.chainFor(ctx, metaRef)
		if err != nil {
			return nil, err
		}
		for _, u := range m.updates {
			chain.append(u.Author, u.RealAuthor, u.When.UnixMilli(), u.render())
		}
		res.MetaSHA = chain.head
		refs = append(refs, &stagedRef{name: metaRef, head: chain.head, commits: chain.commits})
		written[metaRef] = true
	}

	// Private streams: one independent chain per draft author.
	chains := map[model.AccountID]*refChain{}
	for _, d := range m.drafts {
		chain := chains[d.Author]
		if chain == nil {
			chain, err = m.chainFor(ctx, DraftRef(changeID, d.Author))
			if err != nil {
				return nil, err
			}
			chains[d.Author] = chain
		}
		chain.append(d.Author, d.RealAuthor, d.When.UnixMilli(), d.render())
	}
	for author, chain := range chains {
		name := DraftRef(changeID, author)
		res.DraftSHAs[author] = chain.head
		refs = append(refs, &stagedRef{name: name, head: chain.head, commits: chain.commits})
		written[name] = true
	}

	// Deletions for refs not rewritten above.
	names := make([]string, 0, len(m.deletes))
	for name := range m.deletes {
		if !written[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		refs = append(refs, &stagedRef{name: name, delete: true})
	}

	state := &State{MetaSHA: res.MetaSHA, Drafts: res.DraftSHAs}
	res.State = state.String()
	m.staged = res
	m.stagedRefs = refs
	return res, nil
}

// Execute stages if necessary and applies the staged writes.
func (m *UpdateManager) Execute(ctx context.Context) (*Result, error) {
	res, err := m.Stage(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.apply(ctx, m.project, m.stagedRefs); err != nil {
		return nil, err
	}
	return res, nil
}

// refChain accumulates the staged commits for one ref.
type refChain struct {
	head    string
	commits []*Commit
}

func (c *refChain) append(author, realAuthor model.AccountID, whenMillis int64, message string) {
	commit := &Commit{
		Parent:     c.head,
		Author:     author,
		RealAuthor: effectiveReal(author, realAuthor),
		WhenMillis: whenMillis,
		Message:    message,
	}
	commit.SHA = computeSHA(commit.Parent, commit.Author, commit.RealAuthor, commit.WhenMillis, commit.Message)
	c.commits = append(c.commits, commit)
	c.head = commit.SHA
}

// chainFor resolves the base head a ref's staged chain starts from: empty
// when the ref is staged for deletion, otherwise its current head.
func (m *UpdateManager) chainFor(ctx context.Context, name string) (*refChain, error) {
	if m.deletes[name] {
		return &refChain{}, nil
	}
	head, err := m.store.RefSHA(ctx, m.project, name)
	if err != nil {
		return nil, err
	}
	return &refChain{head: head}, nil
}

// stagedChange returns the single change all staged updates belong to.
func (m *UpdateManager) stagedChange() (model.ChangeID, error) {
	var id model.ChangeID
	seen := false
	note := func(c model.ChangeID) error {
		if seen && c != id {
			return fmt.Errorf("update manager: staged updates span changes %d and %d", id, c)
		}
		id, seen = c, true
		return nil
	}
	for _, u := range m.updates {
		if err := note(u.Change.ID); err != nil {
			return 0, err
		}
	}
	for _, d := range m.drafts {
		if err := note(d.Change.ID); err != nil {
			return 0, err
		}
	}
	if !seen {
		return 0, fmt.Errorf("update manager: nothing staged")
	}
	return id, nil
}

func effectiveReal(author, real model.AccountID) model.AccountID {
	if real == 0 {
		return author
	}
	return real
}

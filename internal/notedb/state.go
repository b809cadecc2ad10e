package notedb

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/relogdev/relog/internal/model"
)

// State is the parsed form of the per-change reconstruction marker stored in
// the legacy relational store. Its string form is
//
//	<metaSHA>[,<accountID>=<draftSHA>...]
//
// with draft entries sorted by account ID. An empty string means the change
// has never been rebuilt.
type State struct {
	MetaSHA string
	Drafts  map[model.AccountID]string
}

// String renders the canonical marker value.
func (s *State) String() string {
	var b strings.Builder
	b.WriteString(s.MetaSHA)
	ids := make([]model.AccountID, 0, len(s.Drafts))
	for id := range s.Drafts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(&b, ",%d=%s", id, s.Drafts[id])
	}
	return b.String()
}

// ParseState parses a marker value. The empty string parses to nil.
func ParseState(raw string) (*State, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	st := &State{MetaSHA: parts[0], Drafts: map[model.AccountID]string{}}
	if st.MetaSHA == "" {
		return nil, fmt.Errorf("invalid note-db state %q: empty meta SHA", raw)
	}
	for _, p := range parts[1:] {
		acct, sha, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid note-db state %q: bad draft entry %q", raw, p)
		}
		id, err := strconv.ParseInt(acct, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid note-db state %q: bad account %q", raw, acct)
		}
		st.Drafts[model.AccountID(id)] = sha
	}
	return st, nil
}

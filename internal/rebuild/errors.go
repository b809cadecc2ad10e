package rebuild

import (
	"errors"
	"fmt"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/notedb"
)

// NoPatchSetsError marks a change with zero patch set rows. Such a change
// has no reconstructible history; batch migration logs and skips it.
type NoPatchSetsError struct {
	Change model.ChangeID
}

func (e *NoPatchSetsError) Error() string {
	return fmt.Sprintf("change %d has no patch sets", e.Change)
}

// IsNoPatchSets reports whether err marks an unreconstructible change.
func IsNoPatchSets(err error) bool {
	var npe *NoPatchSetsError
	return errors.As(err, &npe)
}

// ConflictingRebuildError reports that a concurrent rebuild with a different
// result claimed the state marker first. Staged carries the local result,
// which remains logically valid: read-path callers may serve from it while
// the stored copy diverges.
type ConflictingRebuildError struct {
	Change   model.ChangeID
	Expected string // marker value this run staged against
	Actual   string // marker value found in the store
	Staged   *notedb.Result
}

func (e *ConflictingRebuildError) Error() string {
	return fmt.Sprintf("conflicting rebuild of change %d: state marker changed from %q to %q",
		e.Change, e.Expected, e.Actual)
}

// AsConflicting extracts a ConflictingRebuildError from an error chain.
func AsConflicting(err error) (*ConflictingRebuildError, bool) {
	var cre *ConflictingRebuildError
	ok := errors.As(err, &cre)
	return cre, ok
}

// InvariantError is panicked when event construction or ordering violates an
// internal invariant: a dependency on an event outside the sort input, a
// dependency cycle, a timestamp regression within a batch. These are bugs in
// the pipeline, not properties of the input data, so they fail loudly
// instead of producing a silently wrong history.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "rebuild invariant violated: " + e.Msg
}

// invariant panics with an InvariantError unless cond holds.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}

// Package rebuild reconstructs the full history of a change from its legacy
// relational rows as a sequence of atomic note-log transactions.
//
// The pipeline runs in fixed phases for each change:
//
//  1. Derive one event per relational fact (patch sets, approvals,
//     comments, messages, reviewer transitions), plus hashtag facts
//     recovered from any previously written note commits, plus a terminal
//     reconciliation event.
//  2. Wire dependency edges: comments and approvals depend on their patch
//     set event, patch set events chain in upload order, and post-submit
//     approvals depend on the submit event.
//  3. Sort: merge natural chronological order with the dependency
//     constraints into one total order (EventSorter).
//  4. Batch: accumulate consecutive events that share an author, patch set
//     and tag within a bounded time window into single transactions
//     (EventList).
//  5. Publish: stage the transactions and claim the per-change state marker
//     with a compare-and-swap before physically writing.
//
// Ordering was never explicitly modeled in the relational schema, so the
// reconstruction leans on heuristics in places: timestamps may be smoothed
// to stay non-decreasing after dependency-driven reordering, and free-text
// messages are pattern-matched to recover topic and status transitions.
// These are documented best-effort behaviors, not correctness guarantees.
//
// Error Taxonomy:
//
//   - NoPatchSetsError: the change is not reconstructible; batch callers
//     log and skip it.
//   - ConflictingRebuildError: a concurrent divergent rebuild won the state
//     marker race; the locally staged result is still logically valid.
//   - InvariantError (panic): defects in event construction such as
//     dependency cycles or timestamp regressions after sorting. These
//     indicate bugs, not bad input, and fail loudly.
//   - Plain errors: data and I/O failures, propagated without retry.
package rebuild

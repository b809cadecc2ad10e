// Package notedb implements the commit-structured note log that rebuilt
// change histories are written into.
//
// The log is modeled after a git meta ref: each change has one public meta
// ref holding a chain of commits, plus one draft ref per author for private
// draft comments. Every commit records the author, timestamp, patch set and
// an ordered list of field mutations rendered as footers.
//
// Write Path:
//
// Callers open an UpdateManager for a project, stage zero or more prepared
// updates (NoteUpdate for the public stream, DraftUpdate per author) and ref
// deletions, then either:
//   - Stage() to compute the would-be commit chain and resulting state
//     marker without touching disk, or
//   - Execute() to atomically apply the staged writes.
//
// Commit identity is content-addressed: the SHA-1 of the rendered commit
// including its parent SHA. Two managers staging identical rebuilds of the
// same change therefore produce identical chains and identical state
// markers, which is what makes the caller's compare-and-swap publish
// protocol converge safely under races.
package notedb

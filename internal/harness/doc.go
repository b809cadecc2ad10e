// Package harness runs conformance scenarios for the rebuild pipeline.
//
// A scenario is a YAML file describing one change's relational rows with
// timestamps expressed as millisecond offsets from a fixed epoch. The
// harness loads the rows into a throwaway review database, rebuilds the
// change into a throwaway note log, and renders the resulting ref histories
// as a deterministic text transcript.
//
// Transcripts are compared against golden files with goldie; regenerate
// them with:
//
//	go test ./internal/harness -update
package harness

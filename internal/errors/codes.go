// Package errors provides the structured error taxonomy used across kbd.
//
// Errors are classified by Kind rather than by an open-ended code registry:
// the seven kinds below are the ones the ingest pipeline, store, and MCP
// surface actually need to branch on (retry locally vs. fail the task vs.
// reject before the tool body runs).
package errors

// Kind classifies an Error for retry/propagation decisions.
type Kind string

const (
	// KindValidation covers empty input, forbidden filenames, unsupported
	// extensions, and queries with no tokens. Reported to the caller; never
	// surfaces as a task failure unless generated mid-task.
	KindValidation Kind = "validation"
	// KindConflict covers duplicate file hashes and duplicate working-file
	// names (the latter resolved by numeric-suffix renaming before it
	// becomes visible as a conflict).
	KindConflict Kind = "conflict"
	// KindNotFound covers a missing file, chunk, or task id.
	KindNotFound Kind = "not_found"
	// KindTransient covers remote-embedding 429/403 responses and
	// transport-level hiccups; retried per the embedding client's policy.
	KindTransient Kind = "transient"
	// KindFatal covers conversion failure, zero chunks produced, an
	// embedding-dimension mismatch, or a write failure mid-commit. The task
	// is marked failed and the file marked error.
	KindFatal Kind = "fatal"
	// KindAuth covers a missing or invalid bearer token on the MCP boundary.
	KindAuth Kind = "auth"
	// KindStorage covers connection pool exhaustion, transaction rollback,
	// and schema mismatch. The store is a hard dependency; the worker halts
	// the current task.
	KindStorage Kind = "storage"
)

// retryableKinds are retried locally with bounded backoff rather than
// bubbling straight to the task boundary.
var retryableKinds = map[Kind]bool{
	KindTransient: true,
}

// Package disbatch turns a one-shot, expensive disassembly step into an
// idempotent, cacheable, parallelizable pipeline.
//
// The orchestrator wraps an external disassembly backend with:
//   - process-isolated invocation inside an ephemeral workspace directory
//   - path-keyed result caching (gzip-compressed JSON)
//   - lazy, persisted result augmentation (CFG derivation, capability tagging)
//   - a bounded parallel batch driver
//
// The cache key is the cache file path, derived deterministically from the
// input file path plus a caller-supplied suffix. Cache-file existence alone
// decides whether the backend runs again; record content is never inspected
// for freshness.
package disbatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrCorruptCache is returned when a cache file exists but cannot be
	// decompressed or parsed.
	ErrCorruptCache = errors.New("disbatch: corrupt cache file")

	// ErrBackend is returned when the backend invocation fails.
	ErrBackend = errors.New("disbatch: backend invocation failed")

	// ErrWorkspace is returned when the per-invocation workspace cannot be
	// created. Two overlapping invocations on the same file and suffix
	// conflict on the workspace directory; callers must deduplicate.
	ErrWorkspace = errors.New("disbatch: workspace conflict")
)

// CacheExt is appended (after the caller-supplied suffix) to the input file
// path to form the cache file path.
const CacheExt = ".asm.json.gz"

// CachePath returns the cache file path for an input file and suffix.
// This path is the sole cache key: if the file exists, the backend is not
// invoked again for this input.
func CachePath(file, suffix string) string {
	return file + suffix + CacheExt
}

// Backend is the external disassembly or decompilation engine consumed by
// the orchestrator. Invoke must write a complete gzip-compressed JSON record
// (see Record) to outputPath. The returned strings are free-form log lines
// from the tool; they are carried into the per-file log.
//
// Backends are not assumed to be safe for concurrent use within one process;
// the batch driver isolates invocations per workspace but shares the Backend
// value, so implementations that shell out to an external tool are preferred.
type Backend interface {
	Invoke(ctx context.Context, input, fileType, outputPath string, decompile bool) ([]string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, input, fileType, outputPath string, decompile bool) ([]string, error)

// Invoke calls f.
func (f BackendFunc) Invoke(ctx context.Context, input, fileType, outputPath string, decompile bool) ([]string, error) {
	return f(ctx, input, fileType, outputPath, decompile)
}

// CapaFunc tags a record with capability/behavior information. The result is
// opaque to the orchestrator and stored verbatim under the record's "capa"
// key. Verbosity follows the orchestrator's configured level.
type CapaFunc func(ctx context.Context, rec *Record, file string, verbosity int) (json.RawMessage, error)

// DetectFunc sniffs the file type of an input binary.
type DetectFunc func(path string) (string, error)

// FailureKind classifies a per-file log entry.
type FailureKind int

const (
	// KindInfo marks an informational entry, not a failure.
	KindInfo FailureKind = iota

	// KindBackend marks a backend invocation failure.
	KindBackend

	// KindCorruptCache marks a cache file that exists but cannot be parsed.
	KindCorruptCache

	// KindAugment marks a failure while deriving cfg or capa fields.
	KindAugment

	// KindCleanup marks a failure while removing a cache file on request.
	// Cleanup failures never fail the call.
	KindCleanup
)

func (k FailureKind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindBackend:
		return "backend"
	case KindCorruptCache:
		return "corrupt-cache"
	case KindAugment:
		return "augment"
	case KindCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// LogEntry is one typed entry in a per-file log. Failures are carried as
// values rather than panics so a bad file never aborts a batch.
type LogEntry struct {
	Kind    FailureKind
	Message string
}

func (e LogEntry) String() string {
	if e.Kind == KindInfo {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Log accumulates entries for a single disassembly call.
type Log []LogEntry

// Info appends an informational entry.
func (l *Log) Info(format string, args ...any) {
	*l = append(*l, LogEntry{Kind: KindInfo, Message: fmt.Sprintf(format, args...)})
}

// Fail appends a failure entry of the given kind.
func (l *Log) Fail(kind FailureKind, format string, args ...any) {
	*l = append(*l, LogEntry{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Failed reports whether the log contains any non-informational entry.
func (l Log) Failed() bool {
	for _, e := range l {
		if e.Kind != KindInfo {
			return true
		}
	}
	return false
}

package disbatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// Orchestrator composes workspace isolation, backend invocation, the result
// store, and augmentation into a single Disassemble operation, plus a batch
// driver over many files.
//
// The guarantee: at most one backend invocation per distinct cache path over
// the lifetime of that file, and each augmentation is computed at most once
// and persisted, so later calls are pure cache reads.
type Orchestrator struct {
	backend   Backend
	augmenter Augmenter
	detect    DetectFunc
	verbosity int
	workers   int
	logger    *slog.Logger
	progress  ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCapaFunc sets the external capability-tagging collaborator. Without
// it, capa augmentation requests are ignored.
func WithCapaFunc(fn CapaFunc) Option {
	return func(o *Orchestrator) {
		o.augmenter.Capa = fn
	}
}

// WithDetect sets the file-type sniffing function. Defaults to
// DetectFileType.
func WithDetect(fn DetectFunc) Option {
	return func(o *Orchestrator) {
		o.detect = fn
	}
}

// WithVerbosity sets the verbosity level. It is forwarded to the
// capability-tagging collaborator, and levels above 1 make the batch driver
// abort on the first per-file failure instead of isolating it.
func WithVerbosity(v int) Option {
	return func(o *Orchestrator) {
		o.verbosity = v
	}
}

// WithWorkers sets the batch concurrency. 1 forces the sequential driver,
// which preserves input order. Zero picks the default ceiling.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

// WithLogger sets the logger for operational events. If not set, logging is
// disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithProgress sets the progress callback for batch runs.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// New creates an Orchestrator around a backend.
func New(be Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: be,
		detect:  DetectFileType,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// DisassembleOption configures a single Disassemble call.
type DisassembleOption func(*disassembleConfig)

type disassembleConfig struct {
	decompile bool
	cleanup   bool
	cfg       bool
	capa      bool
	pathOnly  bool
	fileType  string
	suffix    string
}

// WithDecompile asks the backend to decompile in addition to disassembling.
func WithDecompile() DisassembleOption {
	return func(c *disassembleConfig) { c.decompile = true }
}

// WithCleanup deletes the cache file before returning. Deletion errors are
// recorded in the log and otherwise swallowed.
func WithCleanup() DisassembleOption {
	return func(c *disassembleConfig) { c.cleanup = true }
}

// WithCFG derives and persists the control-flow edge list if absent.
func WithCFG() DisassembleOption {
	return func(c *disassembleConfig) { c.cfg = true }
}

// WithCapa derives and persists capability tags if absent.
func WithCapa() DisassembleOption {
	return func(c *disassembleConfig) { c.capa = true }
}

// PathOnly returns the cache file path without the parsed record. The batch
// driver uses this to avoid holding every record in memory.
func PathOnly() DisassembleOption {
	return func(c *disassembleConfig) { c.pathOnly = true }
}

// WithFileType supplies the input file type explicitly, skipping detection.
func WithFileType(fileType string) DisassembleOption {
	return func(c *disassembleConfig) { c.fileType = fileType }
}

// WithSuffix sets the cache-key suffix inserted between the input path and
// the cache extension. Distinct suffixes give the same input independent
// cache entries.
func WithSuffix(suffix string) DisassembleOption {
	return func(c *disassembleConfig) { c.suffix = suffix }
}

// Result is the outcome of one successful Disassemble call.
type Result struct {
	// CachePath is the cache file holding the persisted record.
	CachePath string

	// Record is the parsed record, nil when PathOnly was requested.
	Record *Record
}

// Disassemble runs the full pipeline for one file. The returned log carries
// typed entries for every decision and failure; on failure the result is nil
// and the error classifies what went wrong. Callers decide whether a failure
// is fatal — the batch driver isolates them unless verbosity demands
// otherwise.
func (o *Orchestrator) Disassemble(ctx context.Context, file string, opts ...DisassembleOption) (res *Result, log Log, err error) {
	var cfg disassembleConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	cachePath := CachePath(file, cfg.suffix)

	defer func() {
		if !cfg.cleanup {
			return
		}
		if rerr := os.Remove(cachePath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			log.Fail(KindCleanup, "remove %s: %v", cachePath, rerr)
		}
	}()

	fileType := cfg.fileType
	if fileType == "" && o.detect != nil {
		detected, derr := o.detect(file)
		if derr != nil {
			log.Info("file type detection failed: %v", derr)
		} else {
			fileType = detected
		}
	}

	if _, serr := os.Stat(cachePath); serr == nil {
		log.Info("directly reading the generated cache file")
		o.log().Debug("cache hit", "file", file, "cache", cachePath)
	} else {
		ws, werr := NewWorkspace(file, cachePath, cfg.suffix)
		if werr != nil {
			log.Fail(KindBackend, "%v", werr)
			return nil, log, werr
		}
		lines, rerr := ws.Run(ctx, o.backend, fileType, cfg.decompile)
		for _, line := range lines {
			log.Info("%s", line)
		}
		if cerr := ws.Close(); cerr != nil {
			log.Info("workspace cleanup: %v", cerr)
		}
		if rerr != nil {
			log.Fail(KindBackend, "%v", rerr)
			o.log().Warn("backend failed", "file", file, "err", rerr)
			return nil, log, rerr
		}
	}

	rec, rerr := ReadRecord(cachePath)
	if rerr != nil {
		log.Fail(KindCorruptCache, "failed %s msg: %v", file, rerr)
		return nil, log, rerr
	}

	changed, aerr := o.augmenter.Apply(ctx, rec, file, AugmentRequest{
		FileType:  fileType,
		CFG:       cfg.cfg,
		Capa:      cfg.capa,
		Verbosity: o.verbosity,
	})
	if aerr != nil {
		log.Fail(KindAugment, "failed %s msg: %v", file, aerr)
		return nil, log, aerr
	}
	if changed {
		if werr := WriteRecord(cachePath, rec); werr != nil {
			log.Fail(KindAugment, "persist augmentation %s: %v", cachePath, werr)
			return nil, log, werr
		}
	}

	res = &Result{CachePath: cachePath}
	if !cfg.pathOnly {
		res.Record = rec
	}
	return res, log, nil
}

// Cleanup removes the cache file for an input, leaving the input untouched.
// A missing cache file is not an error.
func (o *Orchestrator) Cleanup(file string, opts ...DisassembleOption) error {
	var cfg disassembleConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	err := os.Remove(CachePath(file, cfg.suffix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

package disbatch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mossline/disbatch/internal/fsutil"
)

// defaultMaxWorkers caps batch concurrency when no worker count is set.
const defaultMaxWorkers = 50

// BatchItem is one completed unit of a batch run. Index is the position of
// File in the input list; the parallel driver emits items in completion
// order, so consumers needing input order must re-sort by Index.
type BatchItem struct {
	Index  int
	File   string
	Result *Result
	Log    Log
	Err    error
}

// DisassembleAll drives Disassemble over every file on a bounded worker
// pool (or sequentially when the orchestrator was built with one worker).
// Results always carry the cache path only, never the parsed record.
//
// A failed file is surfaced through its item's Log and Err and never aborts
// the batch, unless verbosity is above 1, in which case the first failure
// cancels remaining work. Files in one batch must be unique: the cache at a
// given path is a single-writer resource and duplicate paths would race on
// workspace creation.
func (o *Orchestrator) DisassembleAll(ctx context.Context, files []string, opts ...DisassembleOption) <-chan BatchItem {
	opts = append(opts[:len(opts):len(opts)], PathOnly())
	out := make(chan BatchItem)

	o.log().Info("batch disassembly", "files", len(files))

	go func() {
		defer close(out)
		if o.workerCount(len(files)) == 1 {
			o.runSequential(ctx, files, opts, out)
			return
		}
		o.runParallel(ctx, files, opts, out)
	}()
	return out
}

// DisassembleDir scans dir for files with the given extension and
// disassembles all of them.
func (o *Orchestrator) DisassembleDir(ctx context.Context, dir, ext string, opts ...DisassembleOption) (<-chan BatchItem, error) {
	if o.progress != nil {
		o.progress(ProgressEvent{Stage: StageScanning, File: dir})
	}
	files, err := fsutil.ScanExt(dir, ext)
	if err != nil {
		return nil, err
	}
	o.log().Info("directory scan", "dir", dir, "ext", ext, "files", len(files))
	return o.DisassembleAll(ctx, files, opts...), nil
}

func (o *Orchestrator) workerCount(n int) int {
	workers := o.workers
	if workers == 0 {
		workers = defaultMaxWorkers
	}
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

func (o *Orchestrator) runSequential(ctx context.Context, files []string, opts []DisassembleOption, out chan<- BatchItem) {
	for i, file := range files {
		item := o.runOne(ctx, i, file, opts)
		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
		o.reportProgress(file, i+1, len(files))
		if item.Err != nil && o.verbosity > 1 {
			return
		}
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, files []string, opts []DisassembleOption, out chan<- BatchItem) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workerCount(len(files)))

	var done atomic.Int64
	for i, file := range files {
		g.Go(func() error {
			item := o.runOne(ctx, i, file, opts)
			select {
			case out <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
			o.reportProgress(file, int(done.Add(1)), len(files))
			if item.Err != nil && o.verbosity > 1 {
				return item.Err
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runOne(ctx context.Context, index int, file string, opts []DisassembleOption) BatchItem {
	res, log, err := o.Disassemble(ctx, file, opts...)
	if err != nil {
		o.log().Warn("file failed", "file", file, "err", err)
	}
	return BatchItem{Index: index, File: file, Result: res, Log: log, Err: err}
}

func (o *Orchestrator) reportProgress(file string, done, total int) {
	if o.progress == nil {
		return
	}
	o.progress(ProgressEvent{
		Stage: StageDisassembling,
		File:  file,
		Done:  done,
		Total: total,
	})
}

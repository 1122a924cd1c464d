package disbatch

import (
	"context"
	"fmt"
)

// Augmenter lazily derives optional record fields and reports whether any
// were newly computed. Fields already present are left untouched, so
// augmentation is idempotent: a second pass over the same record with the
// same requests is a no-op.
type Augmenter struct {
	// Capa is the external capability-tagging collaborator. Nil disables
	// capa augmentation even when requested.
	Capa CapaFunc
}

// AugmentRequest selects which optional fields to derive.
type AugmentRequest struct {
	FileType string // backfilled onto the record's binary metadata if unset
	CFG      bool
	Capa     bool

	// Verbosity is forwarded to the capability-tagging collaborator.
	Verbosity int
}

// Apply derives the requested fields on rec in place. It returns true when
// anything changed and the record needs to be re-persisted. The original
// input file path is required by the capability collaborator.
func (a *Augmenter) Apply(ctx context.Context, rec *Record, file string, req AugmentRequest) (bool, error) {
	changed := false

	if rec.Bin.FileType == "" && req.FileType != "" {
		rec.Bin.FileType = req.FileType
		changed = true
	}

	if req.CFG && rec.CFG == nil {
		edges := BuildCFG(rec.Blocks)
		rec.CFG = &edges
		changed = true
	}

	if req.Capa && rec.Capa == nil && a.Capa != nil {
		tags, err := a.Capa(ctx, rec, file, req.Verbosity)
		if err != nil {
			return changed, fmt.Errorf("disbatch: capa analysis: %w", err)
		}
		rec.Capa = tags
		changed = true
	}

	return changed, nil
}

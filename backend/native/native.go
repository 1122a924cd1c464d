// Package native provides an in-process disassembly backend for x86-64 ELF
// binaries, built on debug/elf and golang.org/x/arch. It covers the common
// Linux case without an external tool installation; heavier backends
// register themselves under their own names.
package native

import (
	"context"
	"crypto/sha256"
	"debug/elf"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mossline/disbatch"
	"github.com/mossline/disbatch/backend"
)

// Name is the registry name of this backend.
const Name = "native"

// Validation errors.
var (
	ErrNotELF   = errors.New("native: not an ELF file")
	ErrNot64Bit = errors.New("native: not a 64-bit ELF")
	ErrNotX86   = errors.New("native: not x86-64 (EM_X86_64)")
	ErrNoText   = errors.New("native: no .text section")
)

func init() {
	backend.Register(Name, func() (disbatch.Backend, error) {
		return New(), nil
	})
}

// Backend disassembles x86-64 ELF binaries in-process.
type Backend struct{}

// New creates a native backend.
func New() *Backend {
	return &Backend{}
}

// Invoke disassembles the input and writes the gzip-compressed JSON record
// to outputPath. The decompile flag is not supported and is reported in the
// returned log lines rather than failing the invocation.
func (b *Backend) Invoke(ctx context.Context, input, fileType, outputPath string, decompile bool) ([]string, error) {
	var lines []string
	if decompile {
		lines = append(lines, "native backend does not decompile; flag ignored")
	}

	f, err := elf.Open(input)
	if err != nil {
		return lines, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return lines, ErrNot64Bit
	}
	if f.Machine != elf.EM_X86_64 {
		return lines, ErrNotX86
	}

	text := f.Section(".text")
	if text == nil {
		return lines, ErrNoText
	}
	data, err := text.Data()
	if err != nil {
		return lines, fmt.Errorf("native: read .text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return lines, err
	}

	funcEntries := functionEntries(f, text)
	insts := decodeText(data, text.Addr)
	blocks := buildBlocks(insts, funcEntries)

	sum, size, err := hashFile(input)
	if err != nil {
		return lines, err
	}

	rec := &disbatch.Record{
		Bin: disbatch.BinaryMeta{
			FileType: fileType,
			Name:     filepath.Base(input),
			SHA256:   sum,
			Size:     size,
			Arch:     "x86_64",
			Entry:    f.Entry,
		},
		Blocks: blocks,
	}
	if err := disbatch.WriteRecord(outputPath, rec); err != nil {
		return lines, err
	}

	lines = append(lines, fmt.Sprintf("decoded %d instructions into %d blocks", len(insts), len(blocks)))
	return lines, nil
}

// functionEntries maps function symbol addresses within the text section to
// their names. Binaries stripped of symbols yield an empty map; block
// splitting then relies on branch targets alone.
func functionEntries(f *elf.File, text *elf.Section) map[uint64]string {
	entries := make(map[uint64]string)
	syms, err := f.Symbols()
	if err != nil {
		return entries
	}
	end := text.Addr + text.Size
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if sym.Value < text.Addr || sym.Value >= end {
			continue
		}
		entries[sym.Value] = sym.Name
	}
	return entries
}

func hashFile(path string) (string, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}

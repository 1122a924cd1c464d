package disbatch

import "encoding/json"

// Record is the persisted unit of work output: one disassembled binary.
//
// The wire form is UTF-8 JSON, gzip-compressed, with at minimum
// {"bin": {"f_type": ...}, "blocks": [...]} and optional "cfg" and "capa"
// keys. Once CFG or Capa are present they are never recomputed; later calls
// are pure cache reads.
type Record struct {
	Bin    BinaryMeta `json:"bin"`
	Blocks []Block    `json:"blocks"`

	// CFG is the derived control-flow edge list. A nil pointer means the
	// field was never computed; a non-nil pointer to an empty list means it
	// was computed and no edges resolved.
	CFG *CFGEdges `json:"cfg,omitempty"`

	// Capa holds opaque capability/behavior tags produced by the
	// capability-tagging collaborator.
	Capa json.RawMessage `json:"capa,omitempty"`
}

// BinaryMeta describes the analyzed binary.
type BinaryMeta struct {
	// FileType is the sniffed or caller-supplied file type of the input.
	FileType string `json:"f_type,omitempty"`

	Name     string `json:"name,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Arch     string `json:"arch,omitempty"`
	Entry    uint64 `json:"entry,omitempty"`
}

// Block is one disassembled basic block, owned exclusively by its Record.
// AddrStart is unique within a record. Calls may reference addresses of
// blocks not present in the record; such edges are dropped during CFG
// derivation.
type Block struct {
	AddrStart uint64   `json:"addr_start"`
	AddrEnd   uint64   `json:"addr_end,omitempty"`
	Name      string   `json:"name,omitempty"`
	Calls     []uint64 `json:"calls"`

	// Ins carries decoded instruction text when the backend provides it.
	Ins []string `json:"ins,omitempty"`
}

// CFGEdges is an ordered edge list over block indices. Each pair is
// (source index, target index) into Record.Blocks.
type CFGEdges [][2]int

// BuildCFG derives the control-flow edge list for a set of blocks: each
// block's AddrStart maps to its position, and only calls whose target
// address resolves to a known block contribute an edge. Edges to unresolved
// addresses are silently dropped.
func BuildCFG(blocks []Block) CFGEdges {
	index := make(map[uint64]int, len(blocks))
	for i, b := range blocks {
		index[b.AddrStart] = i
	}
	edges := make(CFGEdges, 0)
	for i, b := range blocks {
		for _, target := range b.Calls {
			if j, ok := index[target]; ok {
				edges = append(edges, [2]int{i, j})
			}
		}
	}
	return edges
}

package disbatch

// ProgressStage identifies the current phase of a batch run.
type ProgressStage int

const (
	// StageScanning indicates the input directory is being enumerated.
	StageScanning ProgressStage = iota

	// StageDisassembling indicates files are being processed.
	StageDisassembling
)

// ProgressEvent reports batch progress. Done increases monotonically toward
// Total as files complete, regardless of completion order.
type ProgressEvent struct {
	Stage ProgressStage
	File  string
	Done  int
	Total int
}

// ProgressFunc receives progress updates during batch disassembly.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

package disbatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// writeGzip writes raw bytes gzip-compressed to path.
func writeGzip(t *testing.T, path string, content []byte) error {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// testRecord is what the fake backend produces: two blocks, one call edge
// resolvable and one dangling.
func testRecord() *Record {
	return &Record{
		Blocks: []Block{
			{AddrStart: 10, Calls: []uint64{20}},
			{AddrStart: 20, Calls: []uint64{999}},
		},
	}
}

// fakeBackend counts invocations and writes a fixed record. Inputs whose
// name contains "bad" fail the invocation.
type fakeBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Invoke(_ context.Context, input, fileType, outputPath string, _ bool) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if strings.Contains(filepath.Base(input), "bad") {
		return []string{"tool: loading " + filepath.Base(input)}, errors.New("tool crashed")
	}
	if err := WriteRecord(outputPath, testRecord()); err != nil {
		return nil, err
	}
	return []string{"tool: ok"}, nil
}

func (f *fakeBackend) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// writeInput creates a small input binary in dir and returns its path.
func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F', 0x02}, 0o644))
	return path
}

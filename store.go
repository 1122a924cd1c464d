package disbatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// ReadRecord decompresses and parses a cache file. Content that is not
// valid gzip-compressed JSON fails with an error wrapping ErrCorruptCache.
func ReadRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, path, err)
	}
	return &rec, nil
}

// WriteRecord serializes and compresses a record to the cache path. The
// record is marshaled into memory first and the compressed file lands via
// rename, so a partial write cannot clobber a previously valid cache file.
func WriteRecord(path string, rec *Record) error {
	content, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("disbatch: marshal record: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		return fmt.Errorf("disbatch: compress record: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("disbatch: compress record: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

package resource

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/mholt/archiver/v3"
)

// Extractor unpacks an archive into a destination directory.
type Extractor func(archive, dest string) error

// UnpackArchive is the generic extractor; the archive format is inferred
// from the file name.
func UnpackArchive(archive, dest string) error {
	return archiver.Unarchive(archive, dest)
}

// UnpackWithPermission extracts through the system unzip tool, which keeps
// the archived permission bits (the generic extractor normalizes them).
// Used for tool payloads whose bundled executables must stay executable.
func UnpackWithPermission(archive, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	cmd := exec.Command("unzip", "-o", "-q", archive, "-d", dest)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("resource: unzip %s: %v: %s", archive, err, out)
	}
	return nil
}

// Package resource manages versioned download and caching of auxiliary
// resources (tool dependencies, signature files) under a stable local root.
//
// A Descriptor is static per-kind configuration: platform-specific URLs,
// whether the payload is an archive to unpack, and whether to consult the
// server's Last-Modified header for updates. A Cache resolves a descriptor
// for the running platform, downloads at most once, and keeps everything
// under <home>/<kind>/.
package resource

import (
	"errors"
	"net/url"
	"path"
)

// Sentinel errors.
var (
	// ErrUnknownResource is returned when a registry lookup finds no
	// matching kind. This is a hard failure with no fallback.
	ErrUnknownResource = errors.New("resource: unknown resource kind")

	// ErrNoURL is returned when a descriptor has no URL for the requested
	// platform and no default.
	ErrNoURL = errors.New("resource: no URL for platform")
)

// Descriptor is the immutable configuration of one resource kind. A nil
// platform URL falls back to Default.
type Descriptor struct {
	// Name identifies the kind; it becomes the cache subdirectory and the
	// registry lookup key (case-insensitive).
	Name string

	// Platform-specific download URLs. Empty means unavailable for that
	// platform.
	Linux   string
	Windows string
	Darwin  string

	// Default is used when no platform-specific URL is set.
	Default string

	// Unpack extracts the downloaded archive next to it into a directory
	// named <file>_unpacked; Get then returns that directory.
	Unpack bool

	// CheckUpdate consults the server's Last-Modified header on each Get
	// when the file is already cached, re-downloading if the remote copy is
	// newer than the local modification time.
	CheckUpdate bool

	// WithPermission routes extraction through the elevated-permission
	// extractor instead of the generic archive extractor.
	WithPermission bool
}

// URLFor returns the download URL for the named platform (one of "linux",
// "windows", "darwin"), falling back to Default.
func (d *Descriptor) URLFor(goos string) (string, error) {
	u := d.Default
	switch goos {
	case "linux":
		if d.Linux != "" {
			u = d.Linux
		}
	case "windows":
		if d.Windows != "" {
			u = d.Windows
		}
	case "darwin":
		if d.Darwin != "" {
			u = d.Darwin
		}
	}
	if u == "" {
		return "", ErrNoURL
	}
	return u, nil
}

// cacheURL returns the URL used for pre-fetching into a shared cache root:
// default, overridden by linux, then darwin, then windows, in that fixed
// order regardless of the running platform.
func (d *Descriptor) cacheURL() (string, error) {
	u := d.Default
	if d.Linux != "" {
		u = d.Linux
	}
	if d.Darwin != "" {
		u = d.Darwin
	}
	if d.Windows != "" {
		u = d.Windows
	}
	if u == "" {
		return "", ErrNoURL
	}
	return u, nil
}

// fileNameFromURL extracts the final path element of a URL for use as the
// local file name.
func fileNameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", errors.New("resource: cannot derive file name from URL " + raw)
	}
	return name, nil
}

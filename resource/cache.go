package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// DefaultHome is the per-user root under which resources are cached.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, "disbatch-deps")
}

// ConnectivityFunc reports whether the network is reachable. It is consulted
// lazily, at the point an update check is about to happen, never at process
// start.
type ConnectivityFunc func(ctx context.Context) bool

// ProbeConnectivity is the default connectivity check: a short HEAD request
// against a well-known host.
func ProbeConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, "http://www.google.com/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// DownloadProgressFunc receives byte counts during a transfer. Total is -1
// when the server does not announce a content length.
type DownloadProgressFunc func(received, total int64)

// Cache resolves resource descriptors to local paths, downloading and
// unpacking on demand.
type Cache struct {
	home     string
	goos     string
	client   *http.Client
	online   ConnectivityFunc
	extract  Extractor
	elevated Extractor
	progress DownloadProgressFunc
	logger   *slog.Logger

	onceOnline sync.Once
	isOnline   bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHome sets the cache root. Defaults to DefaultHome().
func WithHome(home string) CacheOption {
	return func(c *Cache) { c.home = home }
}

// WithPlatform overrides the platform used for URL resolution. Defaults to
// the running operating system.
func WithPlatform(goos string) CacheOption {
	return func(c *Cache) { c.goos = goos }
}

// WithHTTPClient sets the HTTP client used for downloads and update checks.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.client = client }
}

// WithConnectivity injects the connectivity check consulted before update
// checks. Defaults to ProbeConnectivity.
func WithConnectivity(fn ConnectivityFunc) CacheOption {
	return func(c *Cache) { c.online = fn }
}

// WithExtractor sets the generic archive extractor.
func WithExtractor(fn Extractor) CacheOption {
	return func(c *Cache) { c.extract = fn }
}

// WithElevatedExtractor sets the extractor used for descriptors that need
// elevated permission handling.
func WithElevatedExtractor(fn Extractor) CacheOption {
	return func(c *Cache) { c.elevated = fn }
}

// WithDownloadProgress sets the transfer progress callback.
func WithDownloadProgress(fn DownloadProgressFunc) CacheOption {
	return func(c *Cache) { c.progress = fn }
}

// WithCacheLogger sets the logger for download and update-check events.
// If not set, logging is disabled.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// NewCache creates a resource cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		home:     DefaultHome(),
		goos:     runtime.GOOS,
		client:   http.DefaultClient,
		online:   ProbeConnectivity,
		extract:  UnpackArchive,
		elevated: UnpackWithPermission,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// connected memoizes the connectivity probe for the lifetime of the cache.
func (c *Cache) connected(ctx context.Context) bool {
	c.onceOnline.Do(func() {
		c.isOnline = c.online(ctx)
	})
	return c.isOnline
}

// Get resolves the descriptor's URL for the current platform, downloads the
// payload at most once, unpacks it if the descriptor asks for it, and
// returns the local path (the unpacked directory when unpacking, the file
// otherwise).
func (c *Cache) Get(ctx context.Context, d *Descriptor) (string, error) {
	url, err := d.URLFor(c.goos)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, d.Name)
	}
	return c.download(ctx, d, url, downloadConfig{
		home:   c.home,
		unpack: true,
	})
}

// CacheTo pre-fetches the descriptor's payload into an explicit root,
// never unpacking. The URL is chosen by fixed precedence (default, then
// linux, darwin, windows overriding in order) regardless of the running
// platform: this populates a shared cache, it does not resolve for a host.
func (c *Cache) CacheTo(ctx context.Context, d *Descriptor, root string) (string, error) {
	url, err := d.cacheURL()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, d.Name)
	}
	return c.download(ctx, d, url, downloadConfig{
		home:   root,
		unpack: false,
	})
}

type downloadConfig struct {
	home   string
	unpack bool
	file   string // explicit file name; derived from the URL when empty
}

func (c *Cache) download(ctx context.Context, d *Descriptor, url string, cfg downloadConfig) (string, error) {
	folder := filepath.Join(cfg.home, d.Name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}

	name := cfg.file
	if name == "" {
		var err error
		if name, err = fileNameFromURL(url); err != nil {
			return "", err
		}
	}
	file := filepath.Join(folder, name)
	unpacked := file + "_unpacked"

	info, statErr := os.Stat(file)
	download := false
	switch {
	case statErr == nil:
	case errors.Is(statErr, fs.ErrNotExist):
		download = true
	default:
		return "", statErr
	}

	if !download && d.CheckUpdate && c.connected(ctx) {
		newer, err := c.remoteNewer(ctx, url, info.ModTime())
		if err != nil {
			c.log().Warn("update check failed, assuming no update", "resource", d.Name, "err", err)
		} else if newer {
			c.log().Info("server has a newer version, re-downloading", "resource", d.Name, "url", url)
			download = true
		}
	}

	if download {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if err := os.RemoveAll(unpacked); err != nil {
			return "", err
		}
		if err := c.fetch(ctx, url, file); err != nil {
			return "", err
		}
	}

	if d.Unpack && cfg.unpack {
		if _, err := os.Stat(unpacked); errors.Is(err, fs.ErrNotExist) {
			extract := c.extract
			if d.WithPermission {
				extract = c.elevated
			}
			if err := extract(file, unpacked); err != nil {
				return "", fmt.Errorf("resource: unpack %s: %w", file, err)
			}
		}
		return unpacked, nil
	}
	return file, nil
}

// remoteNewer issues a metadata-only request and compares the server's
// Last-Modified timestamp against the local modification time.
func (c *Cache) remoteNewer(ctx context.Context, url string, localMod time.Time) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("resource: metadata fetch: %s", resp.Status)
	}
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return false, errors.New("resource: no Last-Modified header")
	}
	remote, err := http.ParseTime(lastModified)
	if err != nil {
		return false, err
	}
	return remote.UTC().After(localMod.UTC()), nil
}

// fetch performs the actual transfer into file, landing via rename so an
// interrupted download never leaves a half-written payload behind.
func (c *Cache) fetch(ctx context.Context, url, file string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resource: download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	var reader io.Reader = resp.Body
	if c.progress != nil {
		reader = &progressReader{r: resp.Body, total: resp.ContentLength, fn: c.progress}
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, file); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	c.log().Debug("downloaded", "url", url, "file", file)
	return nil
}

type progressReader struct {
	r        io.Reader
	received int64
	total    int64
	fn       DownloadProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		p.fn(p.received, p.total)
	}
	return n, err
}

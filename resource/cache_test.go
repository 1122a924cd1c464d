package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func offline(context.Context) bool { return false }
func online(context.Context) bool  { return true }

// countingServer serves a fixed payload and counts GET and HEAD requests.
type countingServer struct {
	*httptest.Server
	gets  atomic.Int64
	heads atomic.Int64
}

type serverConfig struct {
	lastModified string
	headStatus   int
}

func newCountingServer(t *testing.T, payload []byte, cfg serverConfig) *countingServer {
	t.Helper()
	if cfg.headStatus == 0 {
		cfg.headStatus = http.StatusOK
	}
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.lastModified != "" {
			w.Header().Set("Last-Modified", cfg.lastModified)
		}
		switch r.Method {
		case http.MethodHead:
			cs.heads.Add(1)
			w.WriteHeader(cfg.headStatus)
		case http.MethodGet:
			cs.gets.Add(1)
			_, _ = w.Write(payload)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func TestGetDownloadsOnce(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("signature data"), serverConfig{})
	home := t.TempDir()
	c := NewCache(WithHome(home), WithConnectivity(offline))
	d := &Descriptor{Name: "sigs", Default: srv.URL + "/sigs.dat"}

	path1, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	want := filepath.Join(home, "sigs", "sigs.dat")
	if path1 != want {
		t.Fatalf("Get() path = %s, want %s", path1, want)
	}
	got, err := os.ReadFile(path1)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "signature data" {
		t.Fatalf("Get() content = %q", got)
	}

	// Second call with no update checking performs zero network calls.
	path2, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if path2 != path1 {
		t.Fatalf("Get() path = %s, want %s", path2, path1)
	}
	if n := srv.gets.Load(); n != 1 {
		t.Fatalf("GET count = %d, want 1", n)
	}
	if n := srv.heads.Load(); n != 0 {
		t.Fatalf("HEAD count = %d, want 0", n)
	}
}

func TestGetPlatformURLFallsBackToDefault(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("x"), serverConfig{})
	c := NewCache(WithHome(t.TempDir()), WithPlatform("darwin"), WithConnectivity(offline))

	// No darwin URL: Default wins.
	d := &Descriptor{Name: "tool", Default: srv.URL + "/tool-any.dat", Linux: srv.URL + "/tool-linux.dat"}
	path, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if filepath.Base(path) != "tool-any.dat" {
		t.Fatalf("Get() path = %s, want tool-any.dat", path)
	}
}

func TestGetNoURL(t *testing.T) {
	t.Parallel()

	c := NewCache(WithHome(t.TempDir()), WithPlatform("windows"), WithConnectivity(offline))
	d := &Descriptor{Name: "tool", Linux: "http://example.com/x"}
	if _, err := c.Get(context.Background(), d); err == nil {
		t.Fatal("Get() error = nil, want ErrNoURL")
	}
}

func TestUpdateCheckRedownloadsNewer(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("v2"), serverConfig{
		lastModified: time.Now().UTC().Format(http.TimeFormat),
	})
	home := t.TempDir()
	c := NewCache(WithHome(home), WithConnectivity(online))
	d := &Descriptor{Name: "rules", Default: srv.URL + "/rules.dat", CheckUpdate: true}

	path, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Age the local copy past the remote Last-Modified.
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := srv.gets.Load(); n != 2 {
		t.Fatalf("GET count = %d, want 2 (re-download)", n)
	}
}

func TestUpdateCheckKeepsCurrent(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("v1"), serverConfig{
		lastModified: time.Now().Add(-48 * time.Hour).UTC().Format(http.TimeFormat),
	})
	c := NewCache(WithHome(t.TempDir()), WithConnectivity(online))
	d := &Descriptor{Name: "rules", Default: srv.URL + "/rules.dat", CheckUpdate: true}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := srv.gets.Load(); n != 1 {
		t.Fatalf("GET count = %d, want 1 (remote not newer)", n)
	}
	if n := srv.heads.Load(); n != 1 {
		t.Fatalf("HEAD count = %d, want 1", n)
	}
}

func TestUpdateCheckFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("v1"), serverConfig{headStatus: http.StatusInternalServerError})
	c := NewCache(WithHome(t.TempDir()), WithConnectivity(online))
	d := &Descriptor{Name: "rules", Default: srv.URL + "/rules.dat", CheckUpdate: true}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// The failed metadata fetch is treated as "no update".
	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := srv.gets.Load(); n != 1 {
		t.Fatalf("GET count = %d, want 1", n)
	}
}

func TestUpdateCheckSkippedOffline(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("v1"), serverConfig{
		lastModified: time.Now().UTC().Format(http.TimeFormat),
	})
	c := NewCache(WithHome(t.TempDir()), WithConnectivity(offline))
	d := &Descriptor{Name: "rules", Default: srv.URL + "/rules.dat", CheckUpdate: true}

	path, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := srv.heads.Load(); n != 0 {
		t.Fatalf("HEAD count = %d, want 0 when offline", n)
	}
	if n := srv.gets.Load(); n != 1 {
		t.Fatalf("GET count = %d, want 1 when offline", n)
	}
}

func TestGetUnpacks(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("archive-bytes"), serverConfig{})
	var extracted atomic.Int64
	c := NewCache(
		WithHome(t.TempDir()),
		WithConnectivity(offline),
		WithExtractor(func(archive, dest string) error {
			extracted.Add(1)
			return os.MkdirAll(dest, 0o755)
		}))
	d := &Descriptor{Name: "tool", Default: srv.URL + "/tool.zip", Unpack: true}

	path, err := c.Get(context.Background(), d)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if filepath.Base(path) != "tool.zip_unpacked" {
		t.Fatalf("Get() path = %s, want the unpacked directory", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("unpacked dir missing: %v", err)
	}

	// Already unpacked: no second extraction.
	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := extracted.Load(); n != 1 {
		t.Fatalf("extract count = %d, want 1", n)
	}
}

func TestGetElevatedExtractor(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("archive-bytes"), serverConfig{})
	var generic, elevated atomic.Int64
	c := NewCache(
		WithHome(t.TempDir()),
		WithConnectivity(offline),
		WithExtractor(func(_, dest string) error {
			generic.Add(1)
			return os.MkdirAll(dest, 0o755)
		}),
		WithElevatedExtractor(func(_, dest string) error {
			elevated.Add(1)
			return os.MkdirAll(dest, 0o755)
		}))
	d := &Descriptor{Name: "tool", Default: srv.URL + "/tool.zip", Unpack: true, WithPermission: true}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if generic.Load() != 0 || elevated.Load() != 1 {
		t.Fatalf("extractor counts = (%d generic, %d elevated), want (0, 1)",
			generic.Load(), elevated.Load())
	}
}

func TestCacheToPrecedence(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("x"), serverConfig{})
	c := NewCache(WithPlatform("linux"), WithConnectivity(offline))

	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{
			name: "windows overrides all",
			d: Descriptor{
				Name:    "t1",
				Default: srv.URL + "/default.dat",
				Linux:   srv.URL + "/linux.dat",
				Darwin:  srv.URL + "/darwin.dat",
				Windows: srv.URL + "/windows.dat",
			},
			want: "windows.dat",
		},
		{
			name: "darwin over linux",
			d: Descriptor{
				Name:   "t2",
				Linux:  srv.URL + "/linux.dat",
				Darwin: srv.URL + "/darwin.dat",
			},
			want: "darwin.dat",
		},
		{
			name: "default alone",
			d: Descriptor{
				Name:    "t3",
				Default: srv.URL + "/default.dat",
			},
			want: "default.dat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			path, err := c.CacheTo(context.Background(), &tt.d, root)
			if err != nil {
				t.Fatalf("CacheTo() error = %v", err)
			}
			if filepath.Base(path) != tt.want {
				t.Fatalf("CacheTo() = %s, want %s", path, tt.want)
			}
			if filepath.Dir(path) != filepath.Join(root, tt.d.Name) {
				t.Fatalf("CacheTo() dir = %s, want under %s", filepath.Dir(path), root)
			}
		})
	}
}

func TestCacheToNeverUnpacks(t *testing.T) {
	t.Parallel()

	srv := newCountingServer(t, []byte("archive"), serverConfig{})
	var extracted atomic.Int64
	c := NewCache(WithConnectivity(offline), WithExtractor(func(_, dest string) error {
		extracted.Add(1)
		return os.MkdirAll(dest, 0o755)
	}))
	d := &Descriptor{Name: "tool", Default: srv.URL + "/tool.zip", Unpack: true}

	path, err := c.CacheTo(context.Background(), d, t.TempDir())
	if err != nil {
		t.Fatalf("CacheTo() error = %v", err)
	}
	if filepath.Base(path) != "tool.zip" {
		t.Fatalf("CacheTo() = %s, want the archive itself", path)
	}
	if extracted.Load() != 0 {
		t.Fatal("CacheTo() must not unpack")
	}
}

func TestDownloadProgress(t *testing.T) {
	t.Parallel()

	payload := []byte("0123456789")
	srv := newCountingServer(t, payload, serverConfig{})
	var last atomic.Int64
	c := NewCache(
		WithHome(t.TempDir()),
		WithConnectivity(offline),
		WithDownloadProgress(func(received, total int64) {
			last.Store(received)
		}))
	d := &Descriptor{Name: "tool", Default: srv.URL + "/tool.dat"}

	if _, err := c.Get(context.Background(), d); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if last.Load() != int64(len(payload)) {
		t.Fatalf("progress = %d bytes, want %d", last.Load(), len(payload))
	}
}

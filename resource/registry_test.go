package resource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&Descriptor{Name: "Ghidra", Default: "http://example.com/ghidra.zip"})

	d, err := r.Lookup("ghidra")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.Name != "Ghidra" {
		t.Fatalf("Lookup() name = %s, want Ghidra", d.Name)
	}

	if _, err := r.Lookup("radare"); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("Lookup() error = %v, want ErrUnknownResource", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&Descriptor{Name: "capa"})
	defer func() {
		if recover() == nil {
			t.Fatal("Register() did not panic on duplicate name")
		}
	}()
	r.Register(&Descriptor{Name: "CAPA"})
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, name := range []string{"zlib-sigs", "capa", "ghidra"} {
		r.Register(&Descriptor{Name: name})
	}
	got := r.Names()
	want := []string{"capa", "ghidra", "zlib-sigs"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestRegistryRequire(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tool"))
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	r.Register(&Descriptor{Name: "tool", Default: srv.URL + "/tool.dat"})
	c := NewCache(WithHome(t.TempDir()), WithConnectivity(offline))

	path, err := r.Require(context.Background(), c, "TOOL")
	if err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Require() path missing: %v", err)
	}

	if _, err := r.Require(context.Background(), c, "absent"); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("Require() error = %v, want ErrUnknownResource", err)
	}
}

func TestRegistryCacheAllBestEffort(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.dat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	r.Register(&Descriptor{Name: "good", Default: srv.URL + "/good.dat"})
	r.Register(&Descriptor{Name: "broken", Default: srv.URL + "/missing.dat"})

	root := t.TempDir()
	c := NewCache(WithConnectivity(offline))
	r.CacheAll(context.Background(), c, root)

	// The broken kind is skipped, the good one lands.
	if _, err := os.Stat(filepath.Join(root, "good", "good.dat")); err != nil {
		t.Fatalf("CacheAll() good kind missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "broken", "missing.dat")); err == nil {
		t.Fatal("CacheAll() wrote a payload for the failed kind")
	}
}

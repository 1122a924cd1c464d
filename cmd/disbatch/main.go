// Command disbatch drives batch disassembly and resource pre-fetching from
// the command line.
//
// Usage:
//
//	disbatch disasm [flags] <file|dir>...
//	disbatch fetch <resource-name>
//	disbatch cache-all [--root dir]
//	disbatch backends
//	disbatch resources
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/mossline/disbatch"
	"github.com/mossline/disbatch/backend"
	_ "github.com/mossline/disbatch/backend/native"
	"github.com/mossline/disbatch/internal/fsutil"
	"github.com/mossline/disbatch/resource"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	var err error
	switch args[0] {
	case "disasm":
		err = runDisasm(args[1:])
	case "fetch":
		err = runFetch(args[1:])
	case "cache-all":
		err = runCacheAll(args[1:])
	case "backends":
		for _, name := range backend.Names() {
			fmt.Println(name)
		}
	case "resources":
		for _, name := range resource.Default.Names() {
			fmt.Println(name)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[0])
		printUsage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: disbatch <command> [flags]

commands:
  disasm     disassemble files or a directory through the cache
  fetch      download a named resource into the local cache
  cache-all  pre-fetch every known resource into a shared root
  backends   list registered disassembly backends
  resources  list registered resource kinds
`)
}

func runDisasm(args []string) error {
	flags := pflag.NewFlagSet("disasm", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	backendName := flags.String("backend", "", "disassembly backend to use")
	ext := flags.String("ext", ".bin", "file extension filter for directories")
	suffix := flags.String("suffix", "", "cache-key suffix")
	workers := flags.Int("workers", 0, "worker count (0 = default, 1 = sequential)")
	verbose := flags.IntP("verbose", "v", 0, "verbosity level (>1 aborts on first failure)")
	cfg := flags.Bool("cfg", false, "derive and persist the control-flow graph")
	capa := flags.Bool("capa", false, "derive and persist capability tags")
	decompile := flags.Bool("decompile", false, "ask the backend to decompile")
	cleanup := flags.Bool("cleanup", false, "delete cache files after processing")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return fmt.Errorf("disasm: no inputs given")
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	conf.registerResources()

	name := conf.Backend
	if *backendName != "" {
		name = *backendName
	}
	if name == "" {
		name = "native"
	}
	be, err := backend.New(name)
	if err != nil {
		return err
	}

	effectiveWorkers := conf.Workers
	if *workers != 0 {
		effectiveWorkers = *workers
	}

	orch := disbatch.New(be,
		disbatch.WithWorkers(effectiveWorkers),
		disbatch.WithVerbosity(*verbose),
		disbatch.WithLogger(newLogger(*verbose)),
		disbatch.WithProgress(printProgress),
	)

	files, err := expandInputs(flags.Args(), *ext)
	if err != nil {
		return err
	}

	var opts []disbatch.DisassembleOption
	if *cfg {
		opts = append(opts, disbatch.WithCFG())
	}
	if *capa {
		opts = append(opts, disbatch.WithCapa())
	}
	if *decompile {
		opts = append(opts, disbatch.WithDecompile())
	}
	if *cleanup {
		opts = append(opts, disbatch.WithCleanup())
	}
	if *suffix != "" {
		opts = append(opts, disbatch.WithSuffix(*suffix))
	}

	failed := 0
	for item := range orch.DisassembleAll(context.Background(), files, opts...) {
		if item.Err == nil {
			continue
		}
		failed++
		fmt.Fprintf(os.Stderr, "\n%s:\n", item.File)
		for _, entry := range item.Log {
			fmt.Fprintf(os.Stderr, "  %s\n", entry)
		}
	}
	fmt.Fprintln(os.Stderr)
	if failed > 0 {
		return fmt.Errorf("disasm: %d of %d files failed", failed, len(files))
	}
	return nil
}

func runFetch(args []string) error {
	flags := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	home := flags.String("home", "", "cache root (defaults to the per-user location)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("fetch: expected exactly one resource name")
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	conf.registerResources()

	cache := newResourceCache(conf, *home)
	path, err := resource.Require(context.Background(), cache, flags.Arg(0))
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func runCacheAll(args []string) error {
	flags := pflag.NewFlagSet("cache-all", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	root := flags.String("root", resource.DefaultHome(), "shared cache root to populate")
	if err := flags.Parse(args); err != nil {
		return err
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	conf.registerResources()

	cache := newResourceCache(conf, "")
	resource.CacheAll(context.Background(), cache, *root)
	return nil
}

func newResourceCache(conf *config, home string) *resource.Cache {
	opts := []resource.CacheOption{
		resource.WithCacheLogger(newLogger(1)),
		resource.WithDownloadProgress(printDownloadProgress),
	}
	if home == "" {
		home = conf.Home
	}
	if home != "" {
		opts = append(opts, resource.WithHome(home))
	}
	return resource.NewCache(opts...)
}

func newLogger(verbose int) *slog.Logger {
	level := slog.LevelWarn
	if verbose > 0 {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func expandInputs(args []string, ext string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		scanned, err := fsutil.ScanExt(arg, ext)
		if err != nil {
			return nil, err
		}
		files = append(files, scanned...)
	}
	return files, nil
}

func printProgress(ev disbatch.ProgressEvent) {
	if ev.Stage != disbatch.StageDisassembling || ev.Total == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%d/%d (%.0f%%)", ev.Done, ev.Total, float64(ev.Done)/float64(ev.Total)*100)
}

func printDownloadProgress(received, total int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%d/%d bytes", received, total)
	} else {
		fmt.Fprintf(os.Stderr, "\r%d bytes", received)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ligustah/cfa/internal/config"
	"github.com/ligustah/cfa/internal/progress"
	"github.com/ligustah/cfa/pkg/filecache"
	"github.com/ligustah/cfa/pkg/nca"
	"github.com/ligustah/cfa/pkg/objstore"
)

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	workers    int
	version    string
	verbose    bool
	progress   bool
	diskless   bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Config file (default ~/.cfa.yaml)")
	fs.IntVarP(&c.workers, "workers", "w", 0, "Number of parallel transfers")
	fs.StringVar(&c.version, "cfa-version", "", "CFA convention version to write")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "Log debug output to stderr")
	fs.BoolVar(&c.progress, "progress", false, "Show progress output")
	fs.BoolVar(&c.diskless, "diskless", false, "Read remote files into memory instead of the cache")
}

// environment holds what a command needs to reach storage.
type environment struct {
	cfg    config.Config
	pool   *objstore.Pool
	cache  *filecache.Cache
	logger *slog.Logger
}

// loadConfig applies the config file, then the environment, then flags.
func (c *commonFlags) loadConfig() (config.Config, error) {
	cfg := config.Default()
	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case c.configPath == "" && errors.Is(err, os.ErrNotExist):
			// The default file is optional.
		default:
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(config.Config{
		Workers:    c.workers,
		CFAVersion: c.version,
		Progress:   c.progress,
		Cache:      config.CacheConfig{Diskless: c.diskless},
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (c *commonFlags) setup() (*environment, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errArgs, err)
	}

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	po := cfg.PoolOptions()
	po.Logger = logger
	pool := objstore.NewPool(po)

	co := cfg.CacheOptions()
	co.Logger = logger
	cache, err := filecache.New(pool, co)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &environment{cfg: cfg, pool: pool, cache: cache, logger: logger}, nil
}

func (e *environment) Close() {
	if err := e.pool.Close(); err != nil {
		e.logger.Warn("close pool", "error", err)
	}
}

func (e *environment) datasetOptions() nca.Options {
	return nca.Options{
		Pool:     e.pool,
		Cache:    e.cache,
		Diskless: e.cfg.Cache.Diskless,
		Stream:   e.cfg.StreamOptions(),
		Workers:  e.cfg.Workers,
		Version:  e.cfg.CFAVersion,
		Logger:   e.logger,
	}
}

// reporter returns a started progress reporter, or nil when progress
// output is off. Stop it when the operation ends.
func (e *environment) reporter(operation, target string, partitions int) *progress.Reporter {
	if !e.cfg.Progress {
		return nil
	}
	r := progress.NewReporter(progress.Options{
		Operation:       operation,
		Target:          target,
		TotalPartitions: partitions,
		Workers:         e.cfg.Workers,
		UpdateInterval:  time.Second,
	})
	r.Start()
	return r
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[cfa] Received interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// newFlagSet creates a command flag set carrying the common flags.
func newFlagSet(name, synopsis, description string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	common.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cfa %s %s\n\n%s\n\nOptions:\n", name, synopsis, description)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and checks the positional argument count. It returns
// an exit code and false when the command should stop.
func parse(fs *pflag.FlagSet, args []string, minArgs, maxArgs int) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess, false
		}
		return ExitInvalidArgs, false
	}
	n := fs.NArg()
	if n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		fmt.Fprintln(os.Stderr, "Error: wrong number of arguments")
		fs.Usage()
		return ExitInvalidArgs, false
	}
	return ExitSuccess, true
}

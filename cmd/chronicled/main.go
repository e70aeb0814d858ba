// Command chronicled runs a single Chronicle storage node: the catalog,
// write-ahead log, write path, Parquet persister, and background
// compactor, wired together behind a cobra root command with
// Version/Commit/BuildTime stamped at link time and signal-driven
// graceful shutdown. A node is started with `chronicled start` and
// serves only /healthz, /readyz, /livez and /metrics over HTTP; there is no write/query
// API in this repo.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/catalogevents"
	"github.com/cuemby/chronicle/pkg/cataloglog"
	"github.com/cuemby/chronicle/pkg/clog"
	"github.com/cuemby/chronicle/pkg/cmetrics"
	"github.com/cuemby/chronicle/pkg/compactor"
	"github.com/cuemby/chronicle/pkg/config"
	"github.com/cuemby/chronicle/pkg/fileindex"
	"github.com/cuemby/chronicle/pkg/flusher"
	"github.com/cuemby/chronicle/pkg/objstore"
	"github.com/cuemby/chronicle/pkg/objstore/fsobj"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
	"github.com/cuemby/chronicle/pkg/objstore/s3obj"
	"github.com/cuemby/chronicle/pkg/persistedsnapshots"
	"github.com/cuemby/chronicle/pkg/writepath"
)

// Version, Commit, and BuildTime are stamped via -ldflags at release
// build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "chronicled",
		Short: "Chronicle time-series storage node",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to node config YAML (defaults to built-in config.Default())")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStartCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("chronicled %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the storage node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context())
		},
	}
}

func runNode(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	clog.Init(clog.Config{
		Level:      clog.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
	})
	cmetrics.SetVersion(Version)
	logger := clog.WithComponent("chronicled")
	logger.Info().Str("node_name", cfg.NodeName).Strs("modes", cfg.Modes).Msg("starting chronicled")

	store, err := buildObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}
	cmetrics.RegisterComponent("objstore", true, "ready")

	bus := catalogevents.NewBus()
	bus.Start()
	defer bus.Stop()

	walLog := cataloglog.New(store, cfg.ObjectStore.Prefix)
	cat := catalog.New(cfg.Catalog.Limits(), bus, walLog)

	replayed, err := walLog.Load(ctx, cat)
	if err != nil {
		return fmt.Errorf("loading catalog log: %w", err)
	}
	logger.Info().Int("entries_replayed", replayed).Msg("catalog loaded")
	cmetrics.RegisterComponent("catalog", true, "ready")

	if uint64(replayed) >= cfg.Catalog.CheckpointInterval {
		if err := walLog.Checkpoint(ctx, cat.Checkpoint()); err != nil {
			return fmt.Errorf("writing catch-up checkpoint: %w", err)
		}
	}
	checkpointer := cataloglog.NewCheckpointer(walLog, cat, bus, cfg.Catalog.CheckpointInterval)
	checkpointer.Start()
	defer checkpointer.Stop()

	genDurations, err := cfg.Catalog.ParsedGenerationDurations()
	if err != nil {
		return fmt.Errorf("parsing generation durations: %w", err)
	}
	for level, d := range genDurations {
		if _, ok := cat.GenerationDuration(level); ok {
			continue
		}
		if err := cat.SetGenerationDuration(ctx, level, d); err != nil {
			return fmt.Errorf("setting generation %d duration: %w", level, err)
		}
	}
	if _, ok := cat.GenerationDuration(1); !ok {
		if err := cat.SetGenerationDuration(ctx, 1, time.Minute); err != nil {
			return fmt.Errorf("setting default generation 1 duration: %w", err)
		}
	}

	index := fileindex.New()
	if err := index.LoadFromStore(ctx, store); err != nil {
		return fmt.Errorf("loading file index: %w", err)
	}
	cmetrics.RegisterComponent("cataloglog", true, "ready")

	instanceUUID := nodeInstanceUUID(cfg.NodeName)
	modes := make([]catalog.NodeMode, 0, len(cfg.Modes))
	for _, m := range cfg.Modes {
		modes = append(modes, catalog.NodeMode(m))
	}
	node, err := cat.RegisterNode(ctx, cfg.NodeName, instanceUUID, modes, cfg.CoreCount)
	if err != nil {
		return fmt.Errorf("registering node: %w", err)
	}

	staging := writepath.NewStaging()
	// The admitter is constructed and discarded: nothing in this binary
	// calls Admit, so staging receives no rows here. Admit is exercised
	// directly by pkg/writepath's own tests.
	_ = writepath.New(cat, staging)

	collector := cmetrics.NewCollector(cat, index)
	collector.Start()
	defer collector.Stop()

	if hasMode(modes, catalog.NodeModeIngest) {
		snapshots := persistedsnapshots.New(store, cfg.ObjectStore.Prefix)
		flushInterval, err := cfg.WriteFlush.ParsedInterval()
		if err != nil {
			return fmt.Errorf("parsing write flush interval: %w", err)
		}
		fl := flusher.New(staging, store, index, snapshots, cat, flushInterval)
		fl.Start()
		defer fl.Stop()
		cmetrics.RegisterComponent("flusher", true, "ready")
	}

	if hasMode(modes, catalog.NodeModeCompact) {
		ledgerDir := cfg.Compactor.LedgerDir
		if ledgerDir == "" {
			ledgerDir = "."
		}
		ledger, err := compactor.OpenLedger(ledgerDir)
		if err != nil {
			return fmt.Errorf("opening compactor ledger: %w", err)
		}
		defer ledger.Close()

		interval, err := cfg.Compactor.ParsedInterval()
		if err != nil {
			return fmt.Errorf("parsing compactor interval: %w", err)
		}
		comp := compactor.New(cat, index, store, ledger, compactor.Config{
			Interval:              interval,
			MinFilesForCompaction: cfg.Compactor.MinFilesForCompaction,
			MaxConcurrentJobs:     cfg.Compactor.MaxConcurrentJobs,
		})
		comp.Start()
		defer comp.Stop()
		cmetrics.RegisterComponent("compactor", true, "ready")
	}

	srv := newHTTPServer(cfg.Server.ListenAddr)
	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("serving /healthz, /readyz, /livez and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErrCh:
		logger.Error().Err(err).Msg("http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	if err := cat.StopNode(shutdownCtx, node.ID); err != nil {
		logger.Warn().Err(err).Msg("recording node stop")
	}
	if err := index.SaveToStore(shutdownCtx, store); err != nil {
		logger.Warn().Err(err).Msg("saving file index on shutdown")
	}
	logger.Info().Msg("chronicled stopped")
	return nil
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func buildObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memobj.New(), nil
	case "fs":
		return fsobj.New(cfg.FS.Dir)
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return s3obj.New(client, cfg.S3.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("config: unknown object store backend %q", cfg.Backend)
	}
}

func newHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", cmetrics.HealthHandler())
	mux.Handle("/readyz", cmetrics.ReadyHandler())
	mux.Handle("/livez", cmetrics.LivenessHandler())
	mux.Handle("/metrics", cmetrics.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}

func hasMode(modes []catalog.NodeMode, m catalog.NodeMode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// nodeInstanceUUID derives a stable, deterministic instance UUID from
// name so restarting a node under the same name reuses its identity
// rather than minting a fresh one every process start: instance_uuid
// is immutable once registered.
func nodeInstanceUUID(name string) [16]byte {
	var out [16]byte
	h := fnv64a(name)
	for i := 0; i < 16; i++ {
		out[i] = byte(h >> (8 * uint(i%8)))
	}
	return out
}

func fnv64a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

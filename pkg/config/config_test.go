package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_name: chronicled-1
modes: ["ingest"]
object_store:
  backend: fs
  prefix: data
  fs:
    dir: /var/lib/chronicle
catalog:
  generation_durations:
    1: 60s
    2: 120s
compactor:
  interval: 30m
  min_files_for_compaction: 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "chronicled-1", cfg.NodeName)
	require.Equal(t, "fs", cfg.ObjectStore.Backend)
	require.Equal(t, "/var/lib/chronicle", cfg.ObjectStore.FS.Dir)
	require.Equal(t, 8, cfg.Compactor.MinFilesForCompaction)

	interval, err := cfg.Compactor.ParsedInterval()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, interval)

	durations, err := cfg.Catalog.ParsedGenerationDurations()
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, durations[1])
	require.Equal(t, 120*time.Second, durations[2])
}

func TestDefaultCompactorIntervalIsOneHour(t *testing.T) {
	cfg := Default()
	interval, err := cfg.Compactor.ParsedInterval()
	require.NoError(t, err)
	require.Equal(t, time.Hour, interval)
}

func TestDefaultWriteFlushIntervalIsTenSeconds(t *testing.T) {
	cfg := Default()
	interval, err := cfg.WriteFlush.ParsedInterval()
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, interval)
}

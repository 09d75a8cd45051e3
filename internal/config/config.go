// Package config loads BigMap's runtime configuration: godotenv-sourced
// defaults layered under BIGMAP_*-prefixed environment variables, with
// cmd/bigmapd's cobra/pflag flags taking final precedence.
//
// Grounded on orbas1-Synnergy's walletserver/config.Load (godotenv.Load +
// os.Getenv-with-default) for the loading shape, generalized from a single
// Port field to the full set of options in spec.md §6.5.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the tunables spec.md §6.5 names, plus the process-level
// settings (listen address, log mode) the ambient stack needs that the
// distilled spec is silent on.
type Config struct {
	// UsedBytesThreshold is the per-shard utilisation above which
	// maintenance triggers a split. Default 3 GiB; never allowed below
	// 512 MiB (spec.md §6.5).
	UsedBytesThreshold int64

	// BatchLimitBytes soft-caps a single relocation batch payload.
	BatchLimitBytes int64

	// ListCap is the maximum keys returned by a single list call, across
	// all shards and per shard.
	ListCap int

	// SearchTopK is the maximum results returned by search.
	SearchTopK int

	// RandomKeyAttempts bounds get_random_key's digest-walk iterations.
	RandomKeyAttempts int

	// ListenAddr is the address cmd/bigmapd's HTTP surface binds to.
	ListenAddr string

	// MetricsAddr is the address the Prometheus /metrics handler binds to.
	MetricsAddr string

	// LogDev switches internal/obslog from JSON production logging to
	// human-readable development logging.
	LogDev bool

	// SnapshotPath, if non-empty, opens a Badger store at that directory
	// and has the Fake Fabric persist its shard routing table (id, kind,
	// assigned digest range) to it every SnapshotEvery mutating calls.
	// Empty disables snapshotting entirely — the default, single-process
	// demo/test deployment.
	SnapshotPath string

	// SnapshotEvery is the number of mutating Fabric calls (install_code,
	// set_range) between automatic snapshots. Ignored when SnapshotPath
	// is empty.
	SnapshotEvery int
}

const minUsedBytesThreshold = 512 * 1 << 20 // 512 MiB

// Defaults returns the spec.md §6.5 default configuration.
func Defaults() Config {
	return Config{
		UsedBytesThreshold: 3 << 30, // 3 GiB
		BatchLimitBytes:    1 << 20, // 1 MiB
		ListCap:            10000,
		SearchTopK:         20,
		RandomKeyAttempts:  100,
		ListenAddr:         ":8090",
		MetricsAddr:        ":9090",
		LogDev:             false,
		SnapshotPath:       "",
		SnapshotEvery:      100,
	}
}

// Load starts from Defaults, optionally loads envFile via godotenv (a
// missing file is not an error — godotenv.Load is best-effort the same way
// it is in Synnergy's walletserver config), then overlays any BIGMAP_*
// environment variables that are set.
func Load(envFile string) (Config, error) {
	cfg := Defaults()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	if v, ok := envInt64("BIGMAP_USED_BYTES_THRESHOLD"); ok {
		cfg.UsedBytesThreshold = v
	}
	if cfg.UsedBytesThreshold < minUsedBytesThreshold {
		cfg.UsedBytesThreshold = minUsedBytesThreshold
	}
	if v, ok := envInt64("BIGMAP_BATCH_LIMIT_BYTES"); ok {
		cfg.BatchLimitBytes = v
	}
	if v, ok := envInt("BIGMAP_LIST_CAP"); ok {
		cfg.ListCap = v
	}
	if v, ok := envInt("BIGMAP_SEARCH_TOP_K"); ok {
		cfg.SearchTopK = v
	}
	if v, ok := envInt("BIGMAP_RANDOM_KEY_ATTEMPTS"); ok {
		cfg.RandomKeyAttempts = v
	}
	if v := os.Getenv("BIGMAP_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BIGMAP_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("BIGMAP_LOG_DEV"); v != "" {
		cfg.LogDev = v == "1" || v == "true"
	}
	if v := os.Getenv("BIGMAP_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v, ok := envInt("BIGMAP_SNAPSHOT_EVERY"); ok {
		cfg.SnapshotEvery = v
	}

	return cfg, nil
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt(name string) (int, bool) {
	v, ok := envInt64(name)
	return int(v), ok
}

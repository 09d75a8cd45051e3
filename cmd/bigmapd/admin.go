package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd builds a fresh, empty Index, runs status() once, and prints a
// one-line summary (data bucket count, search canister count, total used
// bytes) — useful to sanity-check configuration without standing up the HTTP
// servers.
func newStatusCmd(envFile *string, dev *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print status() for a freshly-initialized Index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, _, _, err := buildIndex(*envFile, *dev)
			if err != nil {
				return err
			}
			st := ix.GetStatus(cmd.Context())
			fmt.Printf("data_buckets=%d search_canisters=%d used_bytes_total=%d\n",
				len(st.DataBuckets), len(st.SearchCanisters), st.UsedBytesTotal)
			return nil
		},
	}
}

// newMaintenanceCmd builds a fresh Index, seeds it via --seed-keys, and runs
// one maintenance() pass, printing the resulting status string.
func newMaintenanceCmd(envFile *string, dev *bool) *cobra.Command {
	var seedKeys int
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run one maintenance() rebalance pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, _, _, err := buildIndex(*envFile, *dev)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if seedKeys > 0 {
				ix.SeedRandomData(ctx, seedKeys, 64, 100)
			}
			fmt.Println(ix.Maintenance(ctx))
			return nil
		},
	}
	cmd.Flags().IntVar(&seedKeys, "seed-keys", 0, "number of random keys to seed before running maintenance")
	return cmd
}

// newSeedCmd implements seed_random_data(n, size) → list<Key> (spec.md §6.3)
// as a standalone CLI entrypoint, printing the generated keys in hex.
func newSeedCmd(envFile *string, dev *bool) *cobra.Command {
	var n, size, attempts int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed deterministic random data into a fresh Index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, _, _, err := buildIndex(*envFile, *dev)
			if err != nil {
				return err
			}
			keys := ix.SeedRandomData(cmd.Context(), n, size, attempts)
			for _, k := range keys {
				fmt.Println(hex.EncodeToString(k))
			}
			fmt.Printf("seeded %d keys\n", len(keys))
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "number of keys to generate")
	cmd.Flags().IntVar(&size, "size", 64, "value size in bytes per key")
	cmd.Flags().IntVar(&attempts, "attempts", 100, "random-walk attempts per key before giving up")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/btree-file-index/btidx/index/btree"
	"github.com/btree-file-index/btidx/index/lsm"
)

// treeStore adapts *btree.Tree to index.Store. The workloads re-insert
// random keys, so a duplicate insert counts as a successful no-op here.
type treeStore struct {
	t *btree.Tree
}

func (s treeStore) Insert(key, value uint64) error {
	err := s.t.Insert(key, value)
	if errors.Is(err, btree.ErrDupKey) {
		return nil
	}
	return err
}

func (s treeStore) Get(key uint64) (uint64, bool, error) {
	v, err := s.t.Search(key)
	if errors.Is(err, btree.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s treeStore) Close() error {
	return s.t.Close()
}

func (a *app) newBenchCommand() *cobra.Command {
	var (
		n        int
		csvPath  string
		plotPath string
	)
	cmd := &cobra.Command{
		Use:   "bench <workdir>",
		Short: "Benchmark the index file against a Pebble baseline",
		Args:  exactArgs(1, "usage: btidx bench <workdir>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n < 1 {
				return a.reportMsg(cmd, "bench size must be positive")
			}
			results, err := runBench(args[0], n, a.log)
			if err != nil {
				return a.report(cmd, err)
			}

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%-8s %-6s %10d ns/op %6d MB\n", r.Engine, r.Operation, r.LatencyNs, r.MemMB)
			}

			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return a.report(cmd, err)
				}
				err = writeResults(f, results)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return a.report(cmd, err)
				}
			}
			if plotPath != "" {
				if err := renderLatencyChart(results, plotPath); err != nil {
					return a.report(cmd, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 100000, "number of sequential keys to load per engine")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write results as CSV to this path")
	cmd.Flags().StringVar(&plotPath, "plot", "", "render a latency chart to this path (.png)")
	return cmd
}

// runBench measures the B-tree index file and a Pebble store under the
// same suite. Engine state from a previous run is discarded first.
func runBench(dir string, n int, log zerolog.Logger) ([]BenchResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	idxPath := filepath.Join(dir, "bench.idx")
	if err := os.Remove(idxPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	t, err := btree.Create(idxPath, log)
	if err != nil {
		return nil, err
	}
	results, err := runSuite("btree", treeStore{t: t}, n, log)
	if cerr := t.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	pebbleDir := filepath.Join(dir, "pebble")
	if err := os.RemoveAll(pebbleDir); err != nil {
		return nil, err
	}
	db, err := lsm.Open(pebbleDir)
	if err != nil {
		return nil, err
	}
	pebbleResults, err := runSuite("pebble", db, n, log)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	return append(results, pebbleResults...), nil
}

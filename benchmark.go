package main

import (
	"encoding/csv"
	"io"
	"math/rand"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/btree-file-index/btidx/index"
)

// BenchResult is one measured operation mix on one engine.
type BenchResult struct {
	Engine    string
	Operation string
	LatencyNs int64
	MemMB     uint64
	Objects   uint64
}

type MemoryStats struct {
	AllocMB      uint64
	TotalAllocMB uint64
	HeapObjects  uint64
}

// GetDetailedMem samples live heap usage. A GC runs first so the numbers
// reflect reachable data, not garbage.
func GetDetailedMem() MemoryStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		HeapObjects:  m.HeapObjects,
	}
}

// runSuite loads n sequential keys into the store and then runs the OLTP
// and OLAP mixes over them, measuring per-op latency and heap footprint.
func runSuite(engine string, s index.Store, n int, log zerolog.Logger) ([]BenchResult, error) {
	log.Debug().Str("engine", engine).Int("n", n).Msg("bench suite start")

	start := time.Now()
	for k := 0; k < n; k++ {
		if err := s.Insert(uint64(k), uint64(k)); err != nil {
			return nil, err
		}
	}
	stats := GetDetailedMem()
	results := []BenchResult{{
		Engine:    engine,
		Operation: "load",
		LatencyNs: time.Since(start).Nanoseconds() / int64(n),
		MemMB:     stats.AllocMB,
		Objects:   stats.HeapObjects,
	}}

	// Fixed seed: every engine sees the same operation sequence.
	rng := rand.New(rand.NewSource(1))
	ops := n / 2
	if ops < 1 {
		ops = 1
	}

	start = time.Now()
	if err := ExecuteWorkload(s, OLTP, ops, rng); err != nil {
		return nil, err
	}
	results = append(results, BenchResult{
		Engine:    engine,
		Operation: "oltp",
		LatencyNs: time.Since(start).Nanoseconds() / int64(ops),
		MemMB:     GetDetailedMem().AllocMB,
	})

	start = time.Now()
	if err := ExecuteWorkload(s, OLAP, ops, rng); err != nil {
		return nil, err
	}
	results = append(results, BenchResult{
		Engine:    engine,
		Operation: "olap",
		LatencyNs: time.Since(start).Nanoseconds() / int64(ops),
		MemMB:     GetDetailedMem().AllocMB,
	})

	log.Debug().Str("engine", engine).Msg("bench suite done")
	return results, nil
}

// writeResults emits the measurements as CSV.
func writeResults(w io.Writer, results []BenchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Engine", "Operation", "LatencyNs", "MemMB", "HeapObjects"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := cw.Write([]string{
			r.Engine,
			r.Operation,
			strconv.FormatInt(r.LatencyNs, 10),
			strconv.FormatUint(r.MemMB, 10),
			strconv.FormatUint(r.Objects, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

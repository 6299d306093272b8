package main

import (
	"math/rand"

	"github.com/btree-file-index/btidx/index"
)

type WorkloadType string

const (
	OLTP WorkloadType = "OLTP (90/10)"
	OLAP WorkloadType = "OLAP (10/90)"
)

// ExecuteWorkload runs a mixed distribution of point reads and inserts
// over the key space [0, ops).
func ExecuteWorkload(s index.Store, wType WorkloadType, ops int, rng *rand.Rand) error {
	for i := 0; i < ops; i++ {
		choice := rng.Intn(100)
		key := uint64(rng.Intn(ops))

		var err error
		switch wType {
		case OLTP:
			if choice < 90 {
				_, _, err = s.Get(key)
			} else {
				err = s.Insert(key, key)
			}
		case OLAP:
			if choice < 10 {
				_, _, err = s.Get(key)
			} else {
				err = s.Insert(key, key)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

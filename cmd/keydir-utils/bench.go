/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"sync/atomic"

	"github.com/ivpusic/grpool"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/queue"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
	"github.com/CovenantSQL/keydir/utils/timer"
)

var (
	benchCount   int
	benchBatch   int
	benchWorkers int
	benchEpoch   uint64
)

func init() {
	flag.IntVar(&benchCount, "count", 10000, "Records written by the bench tools")
	flag.IntVar(&benchBatch, "batch", 1000, "Records per batch of bench-insert")
	flag.IntVar(&benchWorkers, "workers", 16, "Concurrent workers of the bench tools")
	flag.Uint64Var(&benchEpoch, "epoch", 1, "Epoch of the value states written by bench-insert")
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func randomStates(n int, epoch uint64) []types.Record {
	records := make([]types.Record, n)
	for i := range records {
		var label types.NodeLabel
		copy(label.Value[:], randomBytes(32))
		label.Length = 256
		records[i] = &types.ValueState{
			RawLabel: []byte(hex.EncodeToString(randomBytes(16))),
			Epoch:    epoch,
			Version:  1,
			Label:    label,
			Value:    randomBytes(32),
		}
	}
	return records
}

// runWorkers submits jobs to a worker pool and returns the number of failed jobs.
func runWorkers(ctx context.Context, jobs int, job func(i int) error) (failed int64) {
	pool := grpool.NewPool(benchWorkers, benchWorkers*2)
	defer pool.Release()

	for i := 0; i < jobs; i++ {
		if ctx.Err() != nil {
			break
		}
		index := i
		pool.WaitCount(1)
		pool.JobQueue <- func() {
			defer pool.JobDone()
			if err := job(index); err != nil {
				log.WithError(err).WithField("job", index).Error("bench job failed")
				atomic.AddInt64(&failed, 1)
			}
		}
	}
	pool.WaitAll()
	return
}

func report(sw *timer.Stopwatch, phase string, items int, failed int64) error {
	d := sw.Lap(phase)
	log.WithFields(sw.Fields()).Info("bench phases")
	fmt.Printf("%s: %d items in %s (%.1f/s), %d failed jobs\n",
		phase, items, d, timer.Rate(items, d), failed)
	if failed > 0 {
		return errors.Errorf("%d bench jobs failed", failed)
	}
	return nil
}

// runBenchInsert writes random value states in concurrent batches.
func runBenchInsert(ctx context.Context) error {
	if benchBatch <= 0 {
		return errors.New("-batch must be positive")
	}
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sw := timer.Start()
	batches := make([][]types.Record, 0, benchCount/benchBatch+1)
	for left := benchCount; left > 0; left -= benchBatch {
		n := benchBatch
		if left < n {
			n = left
		}
		batches = append(batches, randomStates(n, benchEpoch))
	}
	sw.Lap("generate")

	failed := runWorkers(ctx, len(batches), func(i int) error {
		return st.BatchSet(ctx, batches[i], types.General)
	})
	return report(sw, "insert", benchCount, failed)
}

// runBenchEnqueue pushes random writes through the publish queue.
func runBenchEnqueue(ctx context.Context) error {
	st, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(st)
	sw := timer.Start()
	failed := runWorkers(ctx, benchCount, func(int) error {
		_, err := q.Enqueue(ctx, []byte(hex.EncodeToString(randomBytes(16))), randomBytes(32))
		return err
	})
	return report(sw, "enqueue", benchCount, failed)
}

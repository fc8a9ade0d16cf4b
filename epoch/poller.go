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

package epoch

import (
	"context"
	"sync"
	"time"

	"github.com/CovenantSQL/keydir/metric"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

// Poller watches the tree root and records a publish whenever its epoch moves.
type Poller struct {
	db       storage.Database
	tracker  *Tracker
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	epoch    uint64
	observed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller returns a poller reading db every interval.
func NewPoller(db storage.Database, tracker *Tracker, interval time.Duration) *Poller {
	return &Poller{db: db, tracker: tracker, interval: interval, now: time.Now}
}

// Epoch returns the latest observed epoch.
func (p *Poller) Epoch() (epoch uint64, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch, p.observed
}

// Poll reads the root once. The first observed epoch is only remembered, later changes
// are recorded as a publish at observation time.
func (p *Poller) Poll(ctx context.Context) error {
	record, err := p.db.Get(ctx, types.RootKey{})
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		metric.PollFailed()
		return err
	}
	root, ok := record.(*types.TreeRoot)
	if !ok {
		metric.PollFailed()
		return storage.Corrupt("poll root", "unexpected record %T", record)
	}

	p.mu.Lock()
	changed := p.observed && root.Epoch != p.epoch
	first := !p.observed
	p.epoch, p.observed = root.Epoch, true
	p.mu.Unlock()

	metric.EpochObserved(root.Epoch)
	if changed {
		p.tracker.RecordPublish(p.now())
		log.WithField("epoch", root.Epoch).Info("new epoch observed")
	} else if first {
		log.WithField("epoch", root.Epoch).Debug("initial epoch observed")
	}
	return nil
}

// Run polls until ctx is done. Failed polls are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx); err != nil {
			log.WithError(err).Warning("poll tree root failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.WithError(ctx.Err()).Info("abort root poller")
			return
		}
	}
}

// Start runs the poller on its own goroutine until Stop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(ctx)
	}()
}

// Stop cancels the poller and waits for it.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

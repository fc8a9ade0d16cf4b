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

// Package publisher drains the publish queue into the tree once per epoch.
//
// Exactly one publisher may run against a directory. A failing cycle ends the loop with
// the error, items applied but not yet removed are applied again by the next process,
// which TreeEngine implementations must tolerate.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/metric"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

// ErrInvalidInterval is returned by New for an interval not above zero.
var ErrInvalidInterval = errors.New("publish interval must be positive")

// EpochResult describes one applied epoch.
type EpochResult struct {
	Epoch   uint64
	Applied int
}

// TreeEngine applies label/value writes to the authenticated tree.
type TreeEngine interface {
	// Publish applies pairs as one new epoch. Applying the same pairs again at the next
	// epoch boundary must leave the tree as if they had been applied once.
	Publish(ctx context.Context, pairs []types.LabelValue) (EpochResult, error)
}

// Queue is the part of the publish queue the publisher consumes.
type Queue interface {
	Peek(ctx context.Context, limit int) ([]*types.QueueItem, error)
	Remove(ctx context.Context, ids []uuid.UUID) error
}

// State is the phase of the publisher loop.
type State int32

const (
	// Idle waits for the next epoch boundary.
	Idle State = iota
	// Draining reads the pending writes.
	Draining
	// Applying hands the writes to the tree engine.
	Applying
	// Cleaning removes the applied writes from the queue.
	Cleaning
	// ShuttingDown is terminal.
	ShuttingDown
)

func (s State) String() string {
	if s >= Idle && s <= ShuttingDown {
		return metric.PublisherStates[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// CycleError is a failed cycle, Phase tells which half of the publish failed.
type CycleError struct {
	Phase State
	Err   error
}

func (e *CycleError) Error() string { return fmt.Sprintf("publisher %s: %v", e.Phase, e.Err) }

// Unwrap returns the underlying failure.
func (e *CycleError) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer.
func (e *CycleError) Cause() error { return e.Err }

// Config tunes a publisher.
type Config struct {
	Interval time.Duration
	// EpochLimit caps the writes applied per epoch, not above zero means no cap.
	EpochLimit int
	// OnPublish is called after every published epoch.
	OnPublish func(result EpochResult, at time.Time)
}

// Publisher is the epoch publisher.
type Publisher struct {
	queue  Queue
	engine TreeEngine
	cfg    Config
	now    func() time.Time
	state  int32

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a publisher moving writes from q into engine.
func New(q Queue, engine TreeEngine, cfg Config) (*Publisher, error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Publisher{queue: q, engine: engine, cfg: cfg, now: time.Now}, nil
}

// State returns the current phase.
func (p *Publisher) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Publisher) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
	metric.SetPublisherState(s.String())
}

// nextWake returns the first boundary prev + k*interval after now, and how many
// boundaries were missed on the way.
func nextWake(prev, now time.Time, interval time.Duration) (next time.Time, missed int) {
	next = prev.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
		missed++
	}
	return
}

// Run publishes one epoch per interval until ctx is done. It returns nil on shutdown
// and the error of the first failing cycle otherwise. Shutdown is only observed between
// cycles, a running cycle always completes.
func (p *Publisher) Run(ctx context.Context) error {
	wake := p.now().Add(p.cfg.Interval)
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	log.WithFields(log.Fields{
		"interval":    p.cfg.Interval,
		"epoch_limit": p.cfg.EpochLimit,
	}).Info("publisher started")

	for {
		p.setState(Idle)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		// both may be ready at once, shutdown wins
		if ctx.Err() != nil {
			p.setState(ShuttingDown)
			log.WithError(ctx.Err()).Info("abort publisher cycle")
			return nil
		}

		if err := p.cycle(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Error("publisher cycle failed")
			return err
		}

		var missed int
		wake, missed = nextWake(wake, p.now(), p.cfg.Interval)
		if missed > 0 {
			log.WithField("missed", missed).Warning("publisher cycle overran its interval")
		}
		timer.Reset(wake.Sub(p.now()))
	}
}

// cycle is one Draining, Applying, Cleaning pass.
func (p *Publisher) cycle(ctx context.Context) error {
	start := p.now()

	p.setState(Draining)
	items, err := p.queue.Peek(ctx, p.cfg.EpochLimit)
	if err != nil {
		return &CycleError{Phase: Draining, Err: err}
	}
	if len(items) == 0 {
		log.Debug("publish queue empty, epoch skipped")
		return nil
	}
	pairs := make([]types.LabelValue, len(items))
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		pairs[i] = types.LabelValue{RawLabel: item.RawLabel, RawValue: item.RawValue}
		ids[i] = item.ID
	}

	p.setState(Applying)
	result, err := p.engine.Publish(ctx, pairs)
	if err != nil {
		return &CycleError{Phase: Applying, Err: err}
	}

	p.setState(Cleaning)
	if err = p.queue.Remove(ctx, ids); err != nil {
		return &CycleError{Phase: Cleaning, Err: err}
	}

	end := p.now()
	metric.EpochPublished(len(items), end.Sub(start))
	log.WithFields(log.Fields{
		"epoch":    result.Epoch,
		"items":    len(items),
		"duration": end.Sub(start),
	}).Info("epoch published")
	if p.cfg.OnPublish != nil {
		p.cfg.OnPublish(result, end)
	}
	return nil
}

// Start runs the loop on its own goroutine. The returned channel yields the result of
// Run once and is then closed.
func (p *Publisher) Start(ctx context.Context) <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, p.cancel = context.WithCancel(ctx)
	errCh := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		errCh <- p.Run(ctx)
		close(errCh)
	}()
	return errCh
}

// Stop signals shutdown and waits for the loop to return.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

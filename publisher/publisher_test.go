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

package publisher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/queue"
	"github.com/CovenantSQL/keydir/storage/sqlite"
	"github.com/CovenantSQL/keydir/types"
)

const interval = 20 * time.Millisecond

type memQueue struct {
	sync.Mutex
	items      []*types.QueueItem
	peekErr    error
	removeErr  error
	peekLimits []int
}

func (q *memQueue) add(label string) {
	q.Lock()
	defer q.Unlock()
	q.items = append(q.items, &types.QueueItem{ID: uuid.New(), RawLabel: []byte(label), RawValue: []byte("v")})
}

func (q *memQueue) Peek(_ context.Context, limit int) ([]*types.QueueItem, error) {
	q.Lock()
	defer q.Unlock()
	q.peekLimits = append(q.peekLimits, limit)
	if q.peekErr != nil {
		return nil, q.peekErr
	}
	if limit <= 0 || limit > len(q.items) {
		limit = len(q.items)
	}
	return append([]*types.QueueItem(nil), q.items[:limit]...), nil
}

func (q *memQueue) Remove(_ context.Context, ids []uuid.UUID) error {
	q.Lock()
	defer q.Unlock()
	if q.removeErr != nil {
		return q.removeErr
	}
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := q.items[:0]
	for _, item := range q.items {
		if !drop[item.ID] {
			kept = append(kept, item)
		}
	}
	q.items = kept
	return nil
}

func (q *memQueue) size() int {
	q.Lock()
	defer q.Unlock()
	return len(q.items)
}

type fakeEngine struct {
	sync.Mutex
	epoch   uint64
	batches [][]types.LabelValue
	err     error
}

func (e *fakeEngine) Publish(_ context.Context, pairs []types.LabelValue) (EpochResult, error) {
	e.Lock()
	defer e.Unlock()
	if e.err != nil {
		return EpochResult{}, e.err
	}
	e.epoch++
	e.batches = append(e.batches, pairs)
	return EpochResult{Epoch: e.epoch, Applied: len(pairs)}, nil
}

func (e *fakeEngine) published() int {
	e.Lock()
	defer e.Unlock()
	return len(e.batches)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(interval / 4)
	}
	return false
}

func TestNextWake(t *testing.T) {
	Convey("wake times advance from the previous wake, not from now", t, func() {
		base := time.Unix(1000, 0)
		next, missed := nextWake(base, base.Add(3*time.Millisecond), 10*time.Millisecond)
		So(next, ShouldEqual, base.Add(10*time.Millisecond))
		So(missed, ShouldEqual, 0)

		next, missed = nextWake(base, base.Add(35*time.Millisecond), 10*time.Millisecond)
		So(next, ShouldEqual, base.Add(40*time.Millisecond))
		So(missed, ShouldEqual, 3)

		next, _ = nextWake(base, base.Add(10*time.Millisecond), 10*time.Millisecond)
		So(next, ShouldEqual, base.Add(20*time.Millisecond))
	})
}

func TestPublisher(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("Given a publisher over a memory queue", t, func() {
		q := &memQueue{}
		engine := &fakeEngine{}
		var (
			mu        sync.Mutex
			published []EpochResult
		)
		p, err := New(q, engine, Config{
			Interval:   interval,
			EpochLimit: 2,
			OnPublish: func(r EpochResult, _ time.Time) {
				mu.Lock()
				published = append(published, r)
				mu.Unlock()
			},
		})
		So(err, ShouldBeNil)
		So(p.State(), ShouldEqual, Idle)

		Convey("queued writes are applied in limited batches and removed", func() {
			for _, l := range []string{"a", "b", "c"} {
				q.add(l)
			}
			errCh := p.Start(context.Background())
			So(waitFor(func() bool { return q.size() == 0 }), ShouldBeTrue)
			p.Stop()
			So(<-errCh, ShouldBeNil)
			So(p.State(), ShouldEqual, ShuttingDown)

			So(engine.published(), ShouldEqual, 2)
			So(engine.batches[0], ShouldHaveLength, 2)
			So(string(engine.batches[0][0].RawLabel), ShouldEqual, "a")
			So(engine.batches[1], ShouldHaveLength, 1)
			mu.Lock()
			So(published, ShouldHaveLength, 2)
			So(published[1].Epoch, ShouldEqual, 2)
			mu.Unlock()
			So(q.peekLimits[0], ShouldEqual, 2)
		})

		Convey("empty epochs never reach the engine", func() {
			errCh := p.Start(context.Background())
			So(waitFor(func() bool {
				q.Lock()
				defer q.Unlock()
				return len(q.peekLimits) >= 3
			}), ShouldBeTrue)
			p.Stop()
			So(<-errCh, ShouldBeNil)
			So(engine.published(), ShouldEqual, 0)
		})

		Convey("a failing apply ends the loop and keeps the queue", func() {
			q.add("a")
			engine.err = errors.New("tree unavailable")
			err := p.Run(context.Background())
			var ce *CycleError
			So(errors.As(err, &ce), ShouldBeTrue)
			So(ce.Phase, ShouldEqual, Applying)
			So(errors.Cause(err), ShouldEqual, engine.err)
			So(q.size(), ShouldEqual, 1)
		})

		Convey("queue failures name their phase", func() {
			q.peekErr = errors.New("db down")
			err := p.Run(context.Background())
			So(err.Error(), ShouldStartWith, "publisher draining")

			q.peekErr = nil
			q.add("a")
			q.removeErr = errors.New("db down")
			err = p.Run(context.Background())
			So(err.Error(), ShouldStartWith, "publisher cleaning")
			So(engine.published(), ShouldEqual, 1)
		})

		Convey("stopping before the first tick publishes nothing", func() {
			q.add("a")
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(p.Run(ctx), ShouldBeNil)
			So(engine.published(), ShouldEqual, 0)
			p.Stop()
		})
	})

	Convey("A due tick never outruns a shutdown", t, func() {
		q := &memQueue{}
		q.add("a")
		engine := &fakeEngine{}
		p, err := New(q, engine, Config{Interval: time.Nanosecond})
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for i := 0; i < 50; i++ {
			So(p.Run(ctx), ShouldBeNil)
		}
		So(engine.published(), ShouldEqual, 0)
		So(q.size(), ShouldEqual, 1)
	})

	Convey("A zero interval is refused", t, func() {
		_, err := New(&memQueue{}, &fakeEngine{}, Config{})
		So(err, ShouldEqual, ErrInvalidInterval)
	})
}

func TestPublisherWithQueue(t *testing.T) {
	defer leaktest.Check(t)()
	ctx := context.Background()

	Convey("Given a publisher over a sqlite backed queue", t, func() {
		dir, err := os.MkdirTemp("", "keydir-publisher")
		So(err, ShouldBeNil)
		st, err := sqlite.OpenStore(ctx, filepath.Join(dir, "keydir.db"), 2)
		So(err, ShouldBeNil)
		_, err = st.Migrate(ctx)
		So(err, ShouldBeNil)
		Reset(func() {
			_ = st.Close()
			_ = os.RemoveAll(dir)
		})

		q := queue.New(st)
		for _, l := range []string{"alice", "bob"} {
			_, err = q.Enqueue(ctx, []byte(l), []byte("pk"))
			So(err, ShouldBeNil)
		}
		engine := &fakeEngine{}
		p, err := New(q, engine, Config{Interval: interval})
		So(err, ShouldBeNil)

		errCh := p.Start(ctx)
		So(waitFor(func() bool { return engine.published() == 1 }), ShouldBeTrue)
		p.Stop()
		So(<-errCh, ShouldBeNil)

		pending, err := q.IsPending(ctx, []byte("alice"))
		So(err, ShouldBeNil)
		So(pending, ShouldBeFalse)
		So(engine.batches[0], ShouldHaveLength, 2)
	})
}

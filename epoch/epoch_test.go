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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/sqlite"
	"github.com/CovenantSQL/keydir/types"
)

func TestTracker(t *testing.T) {
	Convey("Given a 30s epoch", t, func() {
		tr := NewTracker(30 * time.Second)
		now := time.Unix(10000, 0)

		Convey("nothing is predicted before a publish", func() {
			_, ok := tr.PredictNext(now)
			So(ok, ShouldBeFalse)
		})

		Convey("missed epochs are skipped", func() {
			tr.RecordPublish(now.Add(-75 * time.Second))
			p, ok := tr.PredictNext(now)
			So(ok, ShouldBeTrue)
			So(p.Remaining, ShouldEqual, 15*time.Second)
			So(p.At, ShouldEqual, now.Add(15*time.Second))
		})

		Convey("a publish exactly one epoch ago predicts a full epoch", func() {
			tr.RecordPublish(now.Add(-30 * time.Second))
			p, _ := tr.PredictNext(now)
			So(p.Remaining, ShouldEqual, 30*time.Second)
		})

		Convey("the last recording wins", func() {
			tr.RecordPublish(now.Add(-10 * time.Second))
			tr.RecordPublish(now.Add(-25 * time.Second))
			p, _ := tr.PredictNext(now)
			So(p.Remaining, ShouldEqual, 5*time.Second)
			at, ok := tr.LastPublish()
			So(ok, ShouldBeTrue)
			So(at, ShouldEqual, now.Add(-25*time.Second))
		})

		Convey("a publish in the future counts as now", func() {
			tr.RecordPublish(now.Add(time.Second))
			p, _ := tr.PredictNext(now)
			So(p.Remaining, ShouldEqual, 30*time.Second)
		})

		Convey("concurrent recordings are safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tr.RecordPublish(now.Add(-time.Duration(i) * time.Second))
					tr.PredictNext(now)
				}(i)
			}
			wg.Wait()
			_, ok := tr.PredictNext(now)
			So(ok, ShouldBeTrue)
		})
	})
}

type rootDB struct {
	storage.Database
	sync.Mutex
	root *types.TreeRoot
	err  error
}

func (d *rootDB) Get(_ context.Context, key types.Key) (types.Record, error) {
	d.Lock()
	defer d.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.root == nil {
		return nil, storage.NotFound("get azks")
	}
	r := *d.root
	return &r, nil
}

func (d *rootDB) setEpoch(epoch uint64) {
	d.Lock()
	defer d.Unlock()
	d.root = &types.TreeRoot{Epoch: epoch}
}

func TestPoller(t *testing.T) {
	ctx := context.Background()

	Convey("Given a poller over a changing root", t, func() {
		db := &rootDB{}
		tr := NewTracker(time.Minute)
		p := NewPoller(db, tr, 10*time.Millisecond)
		now := time.Unix(5000, 0)
		p.now = func() time.Time { return now }

		So(p.Poll(ctx), ShouldBeNil)
		_, ok := p.Epoch()
		So(ok, ShouldBeFalse)

		db.setEpoch(3)
		So(p.Poll(ctx), ShouldBeNil)
		epoch, ok := p.Epoch()
		So(ok, ShouldBeTrue)
		So(epoch, ShouldEqual, 3)
		_, ok = tr.LastPublish()
		So(ok, ShouldBeFalse)

		So(p.Poll(ctx), ShouldBeNil)
		_, ok = tr.LastPublish()
		So(ok, ShouldBeFalse)

		db.setEpoch(4)
		So(p.Poll(ctx), ShouldBeNil)
		at, ok := tr.LastPublish()
		So(ok, ShouldBeTrue)
		So(at, ShouldEqual, now)

		db.err = storage.Wrap(storage.KindConnection, "get azks", errors.New("refused"))
		So(storage.IsRetryable(p.Poll(ctx)), ShouldBeTrue)
	})

	Convey("A started poller follows a sqlite root and stops cleanly", t, func() {
		defer leaktest.Check(t)()
		dir, err := os.MkdirTemp("", "keydir-epoch")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		st, err := sqlite.OpenStore(ctx, filepath.Join(dir, "keydir.db"), 2)
		So(err, ShouldBeNil)
		defer st.Close()
		_, err = st.Migrate(ctx)
		So(err, ShouldBeNil)
		So(st.Set(ctx, &types.TreeRoot{Epoch: 1}), ShouldBeNil)

		tr := NewTracker(time.Minute)
		p := NewPoller(st, tr, 5*time.Millisecond)
		p.Start(ctx)
		deadline := time.Now().Add(2 * time.Second)
		for {
			if epoch, ok := p.Epoch(); ok && epoch == 1 {
				break
			}
			So(time.Now().Before(deadline), ShouldBeTrue)
			time.Sleep(5 * time.Millisecond)
		}
		So(st.Set(ctx, &types.TreeRoot{Epoch: 2}), ShouldBeNil)
		for {
			if _, ok := tr.LastPublish(); ok {
				break
			}
			So(time.Now().Before(deadline), ShouldBeTrue)
			time.Sleep(5 * time.Millisecond)
		}
		p.Stop()
		epoch, _ := p.Epoch()
		So(epoch, ShouldEqual, 2)
	})
}

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

package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/epoch"
	"github.com/CovenantSQL/keydir/queue"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/sqlite"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

type response struct {
	Status  string          `json:"status"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func do(h http.Handler, method, path string, body string) (int, response) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

type fixedEpochs struct {
	epoch uint64
	ok    bool
}

func (f fixedEpochs) Epoch() (uint64, bool) { return f.epoch, f.ok }

type brokenDB struct {
	storage.Database
}

func (brokenDB) Get(context.Context, types.Key) (types.Record, error) {
	return nil, storage.Wrap(storage.KindConnection, "get azks", errors.New("dial tcp 10.0.0.1:5432: connection refused"))
}

func (brokenDB) GetState(context.Context, []byte, types.Selector) (*types.ValueState, error) {
	return nil, storage.Wrap(storage.KindOther, "get value state", errors.New(`relation "akd_values" does not exist`))
}

func TestStatusFor(t *testing.T) {
	Convey("storage failures map to opaque statuses", t, func() {
		code, msg := StatusFor(nil)
		So(code, ShouldEqual, http.StatusOK)
		So(msg, ShouldEqual, "ok")

		code, _ = StatusFor(storage.NotFound("get value state"))
		So(code, ShouldEqual, http.StatusNotFound)

		code, msg = StatusFor(storage.Wrap(storage.KindConnection, "get", errors.New("secret dsn")))
		So(code, ShouldEqual, http.StatusServiceUnavailable)
		So(msg, ShouldNotContainSubstring, "secret")

		code, _ = StatusFor(storage.Wrap(storage.KindTransaction, "batch_set", errors.New("commit")))
		So(code, ShouldEqual, http.StatusServiceUnavailable)

		code, msg = StatusFor(storage.Corrupt("get azks", "column %d", 1))
		So(code, ShouldEqual, http.StatusInternalServerError)
		So(msg, ShouldEqual, "internal error")

		code, _ = StatusFor(&queue.Error{Op: "peek", Err: storage.Wrap(storage.KindConnection, "peek", errors.New("x"))})
		So(code, ShouldEqual, http.StatusServiceUnavailable)

		code, _ = StatusFor(errors.WithMessage(ErrBadSelector, "epoch"))
		So(code, ShouldEqual, http.StatusBadRequest)
	})
}

func TestParseSelector(t *testing.T) {
	Convey("selectors are read from the query", t, func() {
		parse := func(q string) (types.Selector, error) {
			v, err := url.ParseQuery(q)
			So(err, ShouldBeNil)
			return parseSelector(v)
		}
		sel, err := parse("")
		So(err, ShouldBeNil)
		So(sel, ShouldResemble, types.MostRecent())

		sel, err = parse("epoch=7")
		So(err, ShouldBeNil)
		So(sel, ShouldResemble, types.Exact(7))

		sel, _ = parse("version=2")
		So(sel, ShouldResemble, types.Version(2))

		sel, _ = parse("at_or_before=9")
		So(sel, ShouldResemble, types.AtOrBefore(9))

		sel, _ = parse("earliest=true")
		So(sel, ShouldResemble, types.Earliest())

		sel, _ = parse("earliest=false")
		So(sel, ShouldResemble, types.MostRecent())

		_, err = parse("epoch=1&version=1")
		So(errors.Cause(err), ShouldEqual, ErrBadSelector)

		_, err = parse("epoch=-1")
		So(errors.Cause(err), ShouldEqual, ErrBadSelector)
	})
}

func TestServer(t *testing.T) {
	ctx := context.Background()

	Convey("Given a server over a sqlite directory", t, func() {
		dir, err := os.MkdirTemp("", "keydir-api")
		So(err, ShouldBeNil)
		st, err := sqlite.OpenStore(ctx, filepath.Join(dir, "keydir.db"), 2)
		So(err, ShouldBeNil)
		_, err = st.Migrate(ctx)
		So(err, ShouldBeNil)
		Reset(func() {
			_ = st.Close()
			_ = os.RemoveAll(dir)
		})

		alice := []byte("alice")
		for e := uint64(1); e <= 3; e++ {
			So(st.Set(ctx, &types.ValueState{RawLabel: alice, Epoch: e * 2, Version: e, Value: []byte{byte(e)}}), ShouldBeNil)
		}
		q := queue.New(st)
		_, err = q.Enqueue(ctx, []byte("bob"), []byte("pk"))
		So(err, ShouldBeNil)

		tracker := epoch.NewTracker(30 * time.Second)
		now := time.Unix(100000, 0)
		tracker.RecordPublish(now.Add(-75 * time.Second))
		s := NewServer(Config{
			DB:      st,
			Epochs:  fixedEpochs{epoch: 6, ok: true},
			Tracker: tracker,
			Pending: q,
		})
		s.now = func() time.Time { return now }
		h := s.Handler()
		path := "/v1/label/" + hex.EncodeToString(alice)

		Convey("the latest state is served by default", func() {
			code, resp := do(h, "GET", path+"/state", "")
			So(code, ShouldEqual, http.StatusOK)
			So(resp.Success, ShouldBeTrue)
			var v valueStateView
			So(json.Unmarshal(resp.Data, &v), ShouldBeNil)
			So(v.Epoch, ShouldEqual, 6)
			So(v.Version, ShouldEqual, 3)
			So(v.RawLabel, ShouldEqual, hex.EncodeToString(alice))
			So(v.Value, ShouldResemble, []byte{3})
		})

		Convey("selectors pick older states", func() {
			code, resp := do(h, "GET", path+"/state?at_or_before=5", "")
			So(code, ShouldEqual, http.StatusOK)
			var v valueStateView
			So(json.Unmarshal(resp.Data, &v), ShouldBeNil)
			So(v.Epoch, ShouldEqual, 4)

			code, _ = do(h, "GET", path+"/state?epoch=5", "")
			So(code, ShouldEqual, http.StatusNotFound)

			code, _ = do(h, "GET", path+"/state?epoch=2&earliest=true", "")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("history lists every state in epoch order", func() {
			code, resp := do(h, "GET", path+"/history", "")
			So(code, ShouldEqual, http.StatusOK)
			var views []valueStateView
			So(json.Unmarshal(resp.Data, &views), ShouldBeNil)
			So(views, ShouldHaveLength, 3)
			So(views[0].Epoch, ShouldEqual, 2)
			So(views[2].Epoch, ShouldEqual, 6)

			code, _ = do(h, "GET", "/v1/label/"+hex.EncodeToString([]byte("carol"))+"/history", "")
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("labels must be hex", func() {
			code, resp := do(h, "GET", "/v1/label/zz/state", "")
			So(code, ShouldEqual, http.StatusBadRequest)
			So(resp.Status, ShouldEqual, ErrBadLabel.Error())
		})

		Convey("pending writes are reported", func() {
			code, resp := do(h, "GET", "/v1/label/"+hex.EncodeToString([]byte("bob"))+"/pending", "")
			So(code, ShouldEqual, http.StatusOK)
			So(string(resp.Data), ShouldContainSubstring, `"pending":true`)
			_, resp = do(h, "GET", path+"/pending", "")
			So(string(resp.Data), ShouldContainSubstring, `"pending":false`)
		})

		Convey("the epoch endpoint predicts the next publish", func() {
			code, resp := do(h, "GET", "/v1/epoch", "")
			So(code, ShouldEqual, http.StatusOK)
			var data struct {
				Epoch       uint64 `json:"epoch"`
				RemainingMs int64  `json:"remaining_ms"`
			}
			So(json.Unmarshal(resp.Data, &data), ShouldBeNil)
			So(data.Epoch, ShouldEqual, 6)
			So(data.RemainingMs, ShouldEqual, 15000)

			s.cfg.Epochs = fixedEpochs{}
			code, _ = do(h, "GET", "/v1/epoch", "")
			So(code, ShouldEqual, http.StatusNotFound)
		})

		Convey("health passes on an empty tree", func() {
			code, resp := do(h, "GET", "/health", "")
			So(code, ShouldEqual, http.StatusOK)
			So(string(resp.Data), ShouldContainSubstring, `"observed":true`)
		})

		Convey("metrics are exposed", func() {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
		})

		Convey("the log level can be changed at runtime", func() {
			prev := log.GetLevel()
			defer log.SetLevel(prev)

			code, _ := do(h, "PUT", "/debug/loglevel", "level=debug")
			So(code, ShouldEqual, http.StatusOK)
			So(log.GetLevel(), ShouldEqual, log.DebugLevel)

			code, resp := do(h, "GET", "/debug/loglevel", "")
			So(code, ShouldEqual, http.StatusOK)
			So(string(resp.Data), ShouldContainSubstring, "debug")

			code, _ = do(h, "PUT", "/debug/loglevel", "level=loud")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("the server binds and stops", func() {
			s.cfg.ListenAddr = "127.0.0.1:0"
			So(s.Start(), ShouldBeNil)
			resp, err := http.Get("http://" + s.Addr() + "/")
			So(err, ShouldBeNil)
			_ = resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)

			stopCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			So(s.Stop(stopCtx), ShouldBeNil)
		})
	})

	Convey("Backend failures never leak driver text", t, func() {
		h := NewServer(Config{DB: brokenDB{}}).Handler()

		code, resp := do(h, "GET", "/health", "")
		So(code, ShouldEqual, http.StatusServiceUnavailable)
		So(resp.Status, ShouldNotContainSubstring, "10.0.0.1")

		code, resp = do(h, "GET", "/v1/label/"+hex.EncodeToString([]byte("a"))+"/state", "")
		So(code, ShouldEqual, http.StatusInternalServerError)
		So(resp.Status, ShouldNotContainSubstring, "akd_values")

		code, _ = do(h, "GET", "/v1/label/61/pending", "")
		So(code, ShouldEqual, http.StatusNotImplemented)
	})
}

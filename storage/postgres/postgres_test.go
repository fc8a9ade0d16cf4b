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

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

// testURL names a scratch database, e.g. postgres://postgres@localhost:5432/keydir_test.
const testURL = "KEYDIR_TEST_POSTGRES_URL"

func TestClassify(t *testing.T) {
	Convey("connection exceptions and shutdowns are retryable", t, func() {
		So(classify(nil), ShouldBeNil)
		So(storage.IsRetryable(classify(&pgconn.PgError{Code: "08006"})), ShouldBeTrue)
		So(storage.IsRetryable(classify(&pgconn.PgError{Code: "57P01"})), ShouldBeTrue)
		So(storage.IsRetryable(classify(&pgconn.PgError{Code: "23505"})), ShouldBeFalse)
		So(storage.IsRetryable(classify(errors.New("syntax"))), ShouldBeFalse)
	})
}

func TestStore(t *testing.T) {
	url := os.Getenv(testURL)
	if url == "" {
		t.Skipf("%s not set", testURL)
	}
	ctx := context.Background()

	Convey("Given a clean postgres schema", t, func() {
		st, err := OpenStore(ctx, url, 4)
		So(err, ShouldBeNil)
		_, err = st.Clean(ctx)
		So(err, ShouldBeNil)
		Reset(func() {
			_ = st.Drop(ctx)
			_ = st.Close()
		})

		Convey("batches are staged with copy and merged", func() {
			v := &types.ValueState{
				RawLabel: []byte("alice"), Epoch: 1, Version: 1,
				Label: types.NodeLabel{Length: 256}, Value: []byte("k"),
			}
			So(st.BatchSet(ctx, []types.Record{&types.TreeRoot{Epoch: 1, NumNodes: 1}, v}, types.General), ShouldBeNil)
			So(st.BatchSet(ctx, []types.Record{v}, types.General), ShouldBeNil)

			got, err := st.GetState(ctx, []byte("alice"), types.MostRecent())
			So(err, ShouldBeNil)
			So(got, ShouldResemble, v)

			versions, err := st.GetLatestVersions(ctx, [][]byte{[]byte("alice"), []byte("bob")}, types.AtOrBefore(1))
			So(err, ShouldBeNil)
			So(versions, ShouldHaveLength, 1)
			So(st.Stats().MaxConns, ShouldEqual, 4)
		})

		Convey("migrating again applies nothing", func() {
			applied, err := st.Migrate(ctx)
			So(err, ShouldBeNil)
			So(applied, ShouldBeEmpty)
		})
	})
}

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

package storage

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestErrors(t *testing.T) {
	Convey("storage errors carry their kind", t, func() {
		err := NotFound("get")
		So(IsNotFound(err), ShouldBeTrue)
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		So(IsRetryable(err), ShouldBeFalse)

		err = Wrap(KindConnection, "acquire", errors.New("dial tcp: refused"))
		So(KindOf(err), ShouldEqual, KindConnection)
		So(IsRetryable(err), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "connection")

		Convey("wrapping keeps the innermost kind", func() {
			outer := Wrap(KindOther, "batch_set", err)
			So(KindOf(outer), ShouldEqual, KindConnection)
			So(outer.Error(), ShouldContainSubstring, "batch_set: acquire")
		})
		Convey("foreign errors are other", func() {
			So(KindOf(errors.New("x")), ShouldEqual, KindOther)
			So(IsNotFound(nil), ShouldBeFalse)
			So(IsRetryable(nil), ShouldBeFalse)
			So(Wrap(KindOther, "noop", nil), ShouldBeNil)
		})
		Convey("rollback failures keep both errors", func() {
			cause := errors.New("merge failed")
			rb := RollbackFailed("batch_set", cause, errors.New("conn closed"))
			So(KindOf(rb), ShouldEqual, KindRollback)
			So(errors.Cause(rb), ShouldEqual, cause)
			So(rb.Error(), ShouldContainSubstring, "conn closed")
			So(rb.Error(), ShouldContainSubstring, "merge failed")
		})
		Convey("corrupt records", func() {
			c := Corrupt("decode", "want %d columns, got %d", 3, 2)
			So(KindOf(c), ShouldEqual, KindCorrupt)
			So(errors.Is(c, ErrCorruptRecord), ShouldBeTrue)
		})
	})
}

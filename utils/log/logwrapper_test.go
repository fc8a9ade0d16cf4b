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

package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestStandardLogger(t *testing.T) {
	Convey("standard logger wrapper", t, func() {
		buf := &bytes.Buffer{}
		SetOutput(buf)
		Reset(func() {
			SetOutput(os.Stderr)
			SetLevel(InfoLevel)
			SetStringFormat("text")
		})

		Convey("string level falls back to the default", func() {
			SetStringLevel("not-a-level", WarnLevel)
			So(GetLevel(), ShouldEqual, WarnLevel)
			SetStringLevel("debug", WarnLevel)
			So(GetLevel(), ShouldEqual, DebugLevel)
			So(IsLevelEnabled(TraceLevel), ShouldBeFalse)
		})

		Convey("fields and errors reach the output", func() {
			SetStringFormat("json")
			SetLevel(DebugLevel)
			WithFields(Fields{"epoch": 3}).WithField("op", "publish").Info("cycle done")
			So(buf.String(), ShouldContainSubstring, `"epoch":3`)
			So(buf.String(), ShouldContainSubstring, `"op":"publish"`)

			buf.Reset()
			WithError(errors.New("boom")).Error("failed")
			So(buf.String(), ShouldContainSubstring, "boom")
			So(buf.String(), ShouldContainSubstring, "caller")
			Debugf("debug %d", 1)
			Infof("info %d", 2)
			Warningf("warning %d", 3)
			So(buf.String(), ShouldContainSubstring, "warning 3")
		})

		Convey("sensitive fields are redacted", func() {
			SetStringFormat("json")
			WithFields(Fields{"raw_label": "alice@example.org", "epoch": 4}).
				WithField("symmetric_key", "c2VjcmV0").Info("state read")
			So(buf.String(), ShouldNotContainSubstring, "alice@example.org")
			So(buf.String(), ShouldNotContainSubstring, "c2VjcmV0")
			So(buf.String(), ShouldContainSubstring, Redacted)
			So(buf.String(), ShouldContainSubstring, `"epoch":4`)
		})

		Convey("error entries name their caller", func() {
			SetStringFormat("json")
			Error("plain failure")
			So(buf.String(), ShouldContainSubstring, "logwrapper_test.go")
			So(logrus.IsLevelEnabled(InfoLevel), ShouldBeTrue)
		})
	})
}

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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/types"
)

func TestTools(t *testing.T) {
	ctx := context.Background()

	Convey("Given a temp directory", t, func() {
		dir, err := os.MkdirTemp("", "keydir-utils")
		So(err, ShouldBeNil)
		assumeYes = true
		databaseURL = "sqlite:" + filepath.Join(dir, "keydir.db")
		Reset(func() {
			assumeYes, databaseURL, configFile, outFile = false, "", "", ""
			_ = os.RemoveAll(dir)
		})

		Convey("confgen writes a loadable config", func() {
			outFile = filepath.Join(dir, "keydir.yaml")
			So(runConfgen(), ShouldBeNil)
			cfg, err := conf.LoadConfig(outFile)
			So(err, ShouldBeNil)
			So(cfg.Database.URL, ShouldEqual, databaseURL)
			So(cfg.RootKey.SymmetricKey, ShouldNotBeEmpty)

			configFile = outFile
			databaseURL = ""
			So(runMigrate(ctx), ShouldBeNil)
			So(runVrfInit(ctx), ShouldBeNil)
			So(runVrfInit(ctx), ShouldBeNil)
		})

		Convey("the command line url wins over the environment", func() {
			os.Setenv(conf.EnvDatabaseURL, "postgres://elsewhere/keydir")
			defer os.Unsetenv(conf.EnvDatabaseURL)
			cfg, err := loadConfig()
			So(err, ShouldBeNil)
			So(cfg.Database.URL, ShouldEqual, databaseURL)
			So(conf.GConf, ShouldEqual, cfg)
		})

		Convey("bench tools write through the store", func() {
			So(runMigrate(ctx), ShouldBeNil)
			benchCount, benchBatch, benchWorkers = 25, 10, 4
			So(runBenchInsert(ctx), ShouldBeNil)
			So(runBenchEnqueue(ctx), ShouldBeNil)
			So(runClean(ctx), ShouldBeNil)
		})
	})

	Convey("random states are distinct and well formed", t, func() {
		records := randomStates(3, 7)
		So(records, ShouldHaveLength, 3)
		a, b := records[0].(*types.ValueState), records[1].(*types.ValueState)
		So(a.Epoch, ShouldEqual, 7)
		So(a.Label.Length, ShouldEqual, 256)
		So(a.RawLabel, ShouldNotResemble, b.RawLabel)
	})

	Convey("worker failures are counted", t, func() {
		benchWorkers = 4
		var ran int64
		failed := runWorkers(ctx, 20, func(i int) error {
			atomic.AddInt64(&ran, 1)
			if i%5 == 0 {
				return errors.New("boom")
			}
			return nil
		})
		So(ran, ShouldEqual, 20)
		So(failed, ShouldEqual, 4)
	})
}

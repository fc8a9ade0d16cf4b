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
	"flag"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/CovenantSQL/keydir/api"
	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/epoch"
	"github.com/CovenantSQL/keydir/metric"
	"github.com/CovenantSQL/keydir/queue"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/cache"
	"github.com/CovenantSQL/keydir/storage/open"
	"github.com/CovenantSQL/keydir/utils"
	"github.com/CovenantSQL/keydir/utils/log"
)

var (
	version = "unknown"
	commit  = "unknown"
	branch  = "unknown"
)

var (
	configFile  string
	listenAddr  string
	showVersion bool
)

const name = "keydir-reader"

func init() {
	flag.StringVar(&configFile, "config", "./keydir.yaml", "config file path")
	flag.StringVar(&listenAddr, "listen", "", "listen address of the http api, overrides Reader.ListenAddr")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
}

// startSampler feeds the runtime dashboard until ctx is done. The returned func waits
// for the sampler to exit.
func startSampler(ctx context.Context, every time.Duration) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		metric.SampleRuntime(ctx, every)
	}()
	return wg.Wait
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	cfg, err := conf.LoadConfig(configFile)
	if err != nil {
		log.WithError(err).Fatal("load config failed")
	}
	conf.GConf = cfg
	log.SetStringLevel(cfg.Log.Level, log.InfoLevel)
	log.SetStringFormat(cfg.Log.Format)
	if listenAddr != "" {
		cfg.Reader.ListenAddr = listenAddr
	}
	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"branch":  branch,
	}).Info("keydir reader starting")

	ctx, cancel := utils.WithExitSignal(context.Background())
	defer cancel()

	st, err := open.Open(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.WithError(err).Fatal("open storage failed")
	}
	defer st.Close()

	driver, _ := open.Driver(cfg.Database.URL)
	metric.Registry.MustRegister(metric.NewPoolCollector(driver, func() metric.PoolGauges {
		s := st.Stats()
		return metric.PoolGauges{Max: s.MaxConns, Total: s.TotalConns, Acquired: s.AcquiredConns, Idle: s.IdleConns}
	}))
	waitSampler := startSampler(ctx, 5*time.Second)

	var db storage.Database = st
	if cfg.Cache.Size > 0 {
		c, err := cache.New(st, cfg.Cache.Size, cfg.Cache.TTL)
		if err != nil {
			log.WithError(err).Fatal("create record cache failed")
		}
		db = c
		log.WithFields(log.Fields{"size": cfg.Cache.Size, "ttl": cfg.Cache.TTL}).Info("record cache enabled")
	}

	tracker := epoch.NewTracker(cfg.Reader.ExpectedEpoch)
	poller := epoch.NewPoller(st, tracker, cfg.Reader.PollInterval)
	poller.Start(ctx)

	server := api.NewServer(api.Config{
		ListenAddr: cfg.Reader.ListenAddr,
		DB:         db,
		Epochs:     poller,
		Tracker:    tracker,
		Pending:    queue.New(st),
	})
	if err = server.Start(); err != nil {
		poller.Stop()
		cancel()
		waitSampler()
		log.WithError(err).Fatal("start api server failed")
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err = server.Stop(stopCtx); err != nil {
		log.WithError(err).Error("stop api server failed")
	}
	stopCancel()
	poller.Stop()
	waitSampler()

	log.Info("keydir reader stopped")
}

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
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/storage/open"
	"github.com/CovenantSQL/keydir/storage/sqlstore"
	"github.com/CovenantSQL/keydir/utils"
	"github.com/CovenantSQL/keydir/utils/log"
)

var (
	version     = "unknown"
	tool        string
	configFile  string
	databaseURL string
	poolSize    int
	assumeYes   bool
	showVersion bool
)

const name = "keydir-utils"

func init() {
	log.SetLevel(log.InfoLevel)

	flag.StringVar(&tool, "tool", "",
		"Tool type: confgen, migrate, drop, clean, genkey, vrf-init, publish, bench-insert, bench-enqueue")
	flag.StringVar(&configFile, "config", "", "Config file path, defaults apply when empty")
	flag.StringVar(&databaseURL, "url", "", "Database url, overrides the config file and "+conf.EnvDatabaseURL)
	flag.IntVar(&poolSize, "pool", 0, "Connection pool size, overrides the config file")
	flag.BoolVar(&assumeYes, "yes", false, "Do not ask before destructive tools")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}
	log.Infof("keydir-utils build: %#v", version)

	ctx, cancel := utils.WithExitSignal(context.Background())
	defer cancel()

	var err error
	switch tool {
	case "confgen":
		err = runConfgen()
	case "genkey":
		err = runGenkey()
	case "migrate":
		err = runMigrate(ctx)
	case "drop":
		err = runDrop(ctx)
	case "clean":
		err = runClean(ctx)
	case "vrf-init":
		err = runVrfInit(ctx)
	case "publish":
		err = runPublish(ctx)
	case "bench-insert":
		err = runBenchInsert(ctx)
	case "bench-enqueue":
		err = runBenchEnqueue(ctx)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.WithError(err).WithField("tool", tool).Error("tool failed")
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies the command line overrides.
func loadConfig() (*conf.Config, error) {
	var (
		cfg *conf.Config
		err error
	)
	if configFile != "" {
		if cfg, err = conf.LoadConfig(configFile); err != nil {
			return nil, err
		}
	} else {
		cfg = conf.Default()
		if url := os.Getenv(conf.EnvDatabaseURL); url != "" {
			cfg.Database.URL = url
		}
	}
	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}
	if poolSize > 0 {
		cfg.Database.PoolSize = poolSize
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetStringLevel(cfg.Log.Level, log.InfoLevel)
	conf.GConf = cfg
	return cfg, nil
}

func openStore(ctx context.Context) (*sqlstore.Store, *conf.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := open.Open(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

// confirm asks a yes/no question on stdin, -yes answers it.
func confirm(question string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("%s (y or n, press Enter for default n):\n", question)
	t, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		log.WithError(err).Error("read answer failed")
		return false
	}
	t = strings.TrimSpace(t)
	return t == "y" || t == "yes"
}

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

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/vrfkey"
)

var (
	outFile string
	keyType string
	rsaBits int
)

func init() {
	flag.StringVar(&outFile, "out", "", "Output file of confgen and genkey")
	flag.StringVar(&keyType, "key-type", "symmetric", "Root key type of genkey: symmetric or rsa")
	flag.IntVar(&rsaBits, "rsa-bits", vrfkey.DefaultRSABits, "RSA root key size of genkey")
}

func writeNew(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		if !confirm(fmt.Sprintf("\"%s\" already exists. Do you want to overwrite it?", path)) {
			return errors.Errorf("%s exists", path)
		}
	}
	return os.WriteFile(path, data, 0600)
}

func runConfgen() error {
	if outFile == "" {
		outFile = "keydir.yaml"
	}
	cfg := conf.Default()
	cfg.Database.URL = databaseURL
	if cfg.Database.URL == "" {
		cfg.Database.URL = "sqlite:keydir.db"
	}
	key, err := vrfkey.GenerateSymmetric()
	if err != nil {
		return err
	}
	cfg.RootKey = conf.RootKey{Type: "symmetric", SymmetricKey: key}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err = writeNew(outFile, data); err != nil {
		return err
	}
	fmt.Printf("Config file: %s\n", outFile)
	fmt.Println("Keep the root key safe, the vrf key cannot be recovered without it")
	return nil
}

func runGenkey() error {
	switch keyType {
	case "symmetric":
		key, err := vrfkey.GenerateSymmetric()
		if err != nil {
			return err
		}
		if outFile == "" {
			fmt.Println(key)
			return nil
		}
		if err = writeNew(outFile, []byte(key+"\n")); err != nil {
			return err
		}
	case "rsa":
		if outFile == "" {
			return errors.New("-out is required for rsa root keys")
		}
		pemData, err := vrfkey.GenerateRSA(rsaBits)
		if err != nil {
			return err
		}
		if err = writeNew(outFile, pemData); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown key type %q", keyType)
	}
	fmt.Printf("Root key file: %s\n", outFile)
	return nil
}

func runVrfInit(ctx context.Context) error {
	st, cfg, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rootKey, err := vrfkey.ParseConfig(cfg.RootKey)
	if err != nil {
		return err
	}
	generated := rootKey.Empty()
	key, err := vrfkey.LoadOrCreate(ctx, st, rootKey)
	if err != nil {
		return err
	}
	if generated {
		fmt.Printf("Generated symmetric root key: %s\n", rootKey.EncodedSymmetricKey())
		fmt.Println("Put it into RootKey.SymmetricKey now, the vrf key cannot be recovered without it")
	}
	fmt.Printf("VRF key fingerprint: %s\n", key.Fingerprint())
	return nil
}

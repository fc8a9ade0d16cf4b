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

package vrfkey

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/keydir/conf"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/sqlite"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

func symmetricConfig() *RootKeyConfig {
	encoded, err := GenerateSymmetric()
	So(err, ShouldBeNil)
	cfg, err := ParseConfig(conf.RootKey{Type: "symmetric", SymmetricKey: encoded})
	So(err, ShouldBeNil)
	return cfg
}

func rsaConfig(dir string) *RootKeyConfig {
	pemData, err := GenerateRSA(2048)
	So(err, ShouldBeNil)
	path := filepath.Join(dir, "root.pem")
	So(os.WriteFile(path, pemData, 0600), ShouldBeNil)
	cfg, err := ParseConfig(conf.RootKey{Type: "rsa", RSAKeyFile: path})
	So(err, ShouldBeNil)
	return cfg
}

func TestSealing(t *testing.T) {
	Convey("Given both root key schemes", t, func() {
		dir, err := os.MkdirTemp("", "keydir-vrfkey")
		So(err, ShouldBeNil)
		Reset(func() { _ = os.RemoveAll(dir) })

		for _, cfg := range []*RootKeyConfig{symmetricConfig(), rsaConfig(dir)} {
			record, key, err := Create(cfg)
			So(err, ShouldBeNil)
			So(record.RootKeyType, ShouldEqual, cfg.Type)
			So(record.RootKeyHash, ShouldResemble, cfg.Hash())
			So(record.Nonce, ShouldHaveLength, 24)
			So(record.EncSymKey == nil, ShouldEqual, cfg.Type == types.SymmetricRootKey)

			opened, err := Open(record, cfg)
			So(err, ShouldBeNil)
			So(opened.Bytes(), ShouldResemble, key.Bytes())
			So(opened.PublicKey(), ShouldResemble, key.PublicKey())
			So(opened.String(), ShouldEqual, "vrfkey:"+key.Fingerprint())

			tampered := *record
			tampered.SymEncVrfKey = append([]byte(nil), record.SymEncVrfKey...)
			tampered.SymEncVrfKey[0] ^= 0xff
			_, err = Open(&tampered, cfg)
			So(errors.Cause(err), ShouldEqual, ErrKeyUnwrapFailed)

			tampered = *record
			tampered.Nonce = record.Nonce[:12]
			_, err = Open(&tampered, cfg)
			So(errors.Cause(err), ShouldEqual, ErrKeyUnwrapFailed)
		}
	})

	Convey("A different root key cannot open the record", t, func() {
		record, _, err := Create(symmetricConfig())
		So(err, ShouldBeNil)
		_, err = Open(record, symmetricConfig())
		So(errors.Cause(err), ShouldEqual, ErrKeyUnwrapFailed)

		dir, err := os.MkdirTemp("", "keydir-vrfkey-rsa")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		_, err = Open(record, rsaConfig(dir))
		So(errors.Cause(err), ShouldEqual, ErrKeyUnwrapFailed)
	})

	Convey("Every vrf key is fresh", t, func() {
		cfg := symmetricConfig()
		first, k1, err := Create(cfg)
		So(err, ShouldBeNil)
		second, k2, err := Create(cfg)
		So(err, ShouldBeNil)
		So(k1.Bytes(), ShouldNotResemble, k2.Bytes())
		So(first.Nonce, ShouldNotResemble, second.Nonce)
	})

	Convey("Root key config is validated", t, func() {
		_, err := ParseConfig(conf.RootKey{Type: "symmetric", SymmetricKey: base64.StdEncoding.EncodeToString([]byte("short"))})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRootKey)
		_, err = ParseConfig(conf.RootKey{Type: "symmetric", SymmetricKey: "!!"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRootKey)
		_, err = ParseConfig(conf.RootKey{Type: "hsm"})
		So(errors.Cause(err), ShouldEqual, ErrInvalidRootKey)
		_, err = ParseRSA([]byte("not pem"))
		So(errors.Cause(err), ShouldEqual, ErrInvalidRootKey)
		_, err = ParseConfig(conf.RootKey{Type: "rsa", RSAKeyFile: "/nonexistent/root.pem"})
		So(err, ShouldNotBeNil)
	})

	Convey("A symmetric config without a key gets one drawn", t, func() {
		cfg, err := ParseConfig(conf.RootKey{Type: "symmetric"})
		So(err, ShouldBeNil)
		So(cfg.Empty(), ShouldBeTrue)

		record, key, err := Create(cfg)
		So(err, ShouldBeNil)
		So(cfg.Empty(), ShouldBeFalse)
		So(cfg.SymmetricKey, ShouldHaveLength, SymmetricKeySize)
		So(record.RootKeyHash, ShouldResemble, cfg.Hash())

		reparsed, err := ParseConfig(conf.RootKey{Type: "symmetric", SymmetricKey: cfg.EncodedSymmetricKey()})
		So(err, ShouldBeNil)
		opened, err := Open(record, reparsed)
		So(err, ShouldBeNil)
		So(opened.Bytes(), ShouldResemble, key.Bytes())
	})

	Convey("Broken entropy is reported", t, func() {
		defer func(r io.Reader) { random = r }(random)
		random = bytes.NewReader(nil)
		_, _, err := Create(&RootKeyConfig{Type: types.SymmetricRootKey, SymmetricKey: make([]byte, SymmetricKeySize)})
		So(err, ShouldNotBeNil)
	})
}

// memStore is a VrfKeyStore over a map.
type memStore struct {
	records map[string]*types.VrfKeyRecord
}

func (m *memStore) GetVrfKey(_ context.Context, hash []byte) (*types.VrfKeyRecord, error) {
	if r, ok := m.records[string(hash)]; ok {
		return r, nil
	}
	return nil, storage.NotFound("get vrf key")
}

func (m *memStore) StoreVrfKey(_ context.Context, r *types.VrfKeyRecord) error {
	m.records[string(r.RootKeyHash)] = r
	return nil
}

func (m *memStore) CountVrfKeys(context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

func TestLoadOrCreate(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty key table", t, func() {
		store := &memStore{records: map[string]*types.VrfKeyRecord{}}
		cfg := symmetricConfig()

		key, err := LoadOrCreate(ctx, store, cfg)
		So(err, ShouldBeNil)
		So(store.records, ShouldHaveLength, 1)

		Convey("the same root key loads the same vrf key", func() {
			again, err := LoadOrCreate(ctx, store, cfg)
			So(err, ShouldBeNil)
			So(again.PublicKey(), ShouldResemble, key.PublicKey())
			So(store.records, ShouldHaveLength, 1)
		})

		Convey("an empty root key config cannot adopt a populated directory", func() {
			_, err := LoadOrCreate(ctx, store, &RootKeyConfig{Type: types.SymmetricRootKey})
			So(errors.Cause(err), ShouldEqual, ErrRootKeyMismatch)
		})

		Convey("another root key is a misconfiguration", func() {
			_, err := LoadOrCreate(ctx, store, symmetricConfig())
			So(errors.Cause(err), ShouldEqual, ErrRootKeyMismatch)
			So(store.records, ShouldHaveLength, 1)
		})
	})

	Convey("Key fingerprints survive log redaction", t, func() {
		var buf bytes.Buffer
		log.SetOutput(&buf)
		defer log.SetOutput(os.Stderr)

		store := &memStore{records: map[string]*types.VrfKeyRecord{}}
		key, err := LoadOrCreate(ctx, store, symmetricConfig())
		So(err, ShouldBeNil)
		So(buf.String(), ShouldContainSubstring, "vrf_key_fingerprint="+key.Fingerprint())
		So(buf.String(), ShouldNotContainSubstring, log.Redacted)
	})

	Convey("An empty symmetric config creates the key and the root key", t, func() {
		store := &memStore{records: map[string]*types.VrfKeyRecord{}}
		cfg := &RootKeyConfig{Type: types.SymmetricRootKey}
		key, err := LoadOrCreate(ctx, store, cfg)
		So(err, ShouldBeNil)
		So(cfg.Empty(), ShouldBeFalse)

		again, err := LoadOrCreate(ctx, store, cfg)
		So(err, ShouldBeNil)
		So(again.Fingerprint(), ShouldEqual, key.Fingerprint())
	})

	Convey("Given a sqlite key table", t, func() {
		dir, err := os.MkdirTemp("", "keydir-vrfkey-db")
		So(err, ShouldBeNil)
		st, err := sqlite.OpenStore(ctx, filepath.Join(dir, "keydir.db"), 2)
		So(err, ShouldBeNil)
		_, err = st.Migrate(ctx)
		So(err, ShouldBeNil)
		Reset(func() {
			_ = st.Close()
			_ = os.RemoveAll(dir)
		})

		cfg := rsaConfig(dir)
		key, err := LoadOrCreate(ctx, st, cfg)
		So(err, ShouldBeNil)
		again, err := LoadOrCreate(ctx, st, cfg)
		So(err, ShouldBeNil)
		So(again.Fingerprint(), ShouldEqual, key.Fingerprint())
	})
}

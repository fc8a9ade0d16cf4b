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
	"context"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

// LoadOrCreate returns the VRF key sealed under the root key, creating and storing one
// when the directory has no VRF key yet. A directory holding VRF keys of other root keys
// fails with ErrRootKeyMismatch. An empty symmetric config only succeeds on an empty
// directory, and cfg then carries the generated root key.
func LoadOrCreate(ctx context.Context, store storage.VrfKeyStore, cfg *RootKeyConfig) (*VrfKey, error) {
	fields := log.Fields{"root_key_type": cfg.Type.String()}

	var (
		record *types.VrfKeyRecord
		err    error = storage.NotFound("get vrf key")
	)
	if !cfg.Empty() {
		hash := cfg.Hash()
		fields["root_key_hash"] = hex.EncodeToString(hash[:8])
		record, err = store.GetVrfKey(ctx, hash)
	}
	if err == nil {
		key, err := Open(record, cfg)
		if err != nil {
			return nil, err
		}
		log.WithFields(fields).WithField("vrf_key_fingerprint", key.Fingerprint()).Info("loaded vrf key")
		return key, nil
	}
	if !storage.IsNotFound(err) {
		return nil, errors.Wrap(err, "load vrf key")
	}

	count, err := store.CountVrfKeys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "count vrf keys")
	}
	if count > 0 {
		log.WithFields(fields).WithField("stored_keys", count).Error("root key matches no stored vrf key")
		return nil, errors.Wrapf(ErrRootKeyMismatch, "%d vrf keys stored under other root keys", count)
	}

	record, key, err := Create(cfg)
	if err != nil {
		return nil, err
	}
	if err = store.StoreVrfKey(ctx, record); err != nil {
		return nil, errors.Wrap(err, "store vrf key")
	}
	fields["root_key_hash"] = hex.EncodeToString(record.RootKeyHash[:8])
	log.WithFields(fields).WithField("vrf_key_fingerprint", key.Fingerprint()).Warning("created new vrf key, keep the root key safe")
	return key, nil
}

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

package publisher

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/minio/blake2b-simd"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

// ValueLog is a TreeEngine that records value states and the root epoch only, without
// tree nodes or commitments. It backs read side deployments and tools that need epochs
// to advance without an authenticated tree.
type ValueLog struct {
	db storage.Database
}

var _ TreeEngine = (*ValueLog)(nil)

// NewValueLog returns a value log over db.
func NewValueLog(db storage.Database) *ValueLog {
	return &ValueLog{db: db}
}

// versionLabel derives the node label of one label version.
func versionLabel(rawLabel []byte, version uint64) types.NodeLabel {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], version)
	h := blake2b.New256()
	_, _ = h.Write(rawLabel)
	_, _ = h.Write(v[:])
	var l types.NodeLabel
	copy(l.Value[:], h.Sum(nil))
	l.Length = 256
	return l
}

// Publish writes one value state per changed label at the next epoch. A pair whose value
// equals the latest published value is skipped, so replaying a batch is harmless. Within
// pairs the last write of a label wins.
func (v *ValueLog) Publish(ctx context.Context, pairs []types.LabelValue) (res EpochResult, err error) {
	var root types.TreeRoot
	record, err := v.db.Get(ctx, types.RootKey{})
	switch {
	case storage.IsNotFound(err):
	case err != nil:
		return res, err
	default:
		r, ok := record.(*types.TreeRoot)
		if !ok {
			return res, storage.Corrupt("value log root", "unexpected record %T", record)
		}
		root = *r
	}

	latest := make(map[string][]byte, len(pairs))
	order := make([][]byte, 0, len(pairs))
	for _, p := range pairs {
		if _, seen := latest[string(p.RawLabel)]; !seen {
			order = append(order, p.RawLabel)
		}
		latest[string(p.RawLabel)] = p.RawValue
	}

	published, err := v.db.GetLatestVersions(ctx, order, types.MostRecent())
	if err != nil {
		return res, err
	}

	epoch := root.Epoch + 1
	records := make([]types.Record, 0, len(order)+1)
	for _, label := range order {
		value := latest[string(label)]
		prev, ok := published[string(label)]
		if ok && bytes.Equal(prev.Value, value) {
			continue
		}
		version := prev.Version + 1
		records = append(records, &types.ValueState{
			RawLabel: label,
			Epoch:    epoch,
			Version:  version,
			Label:    versionLabel(label, version),
			Value:    value,
		})
	}
	if len(records) == 0 {
		return EpochResult{Epoch: root.Epoch}, nil
	}

	applied := len(records)
	records = append(records, &types.TreeRoot{Epoch: epoch, NumNodes: root.NumNodes})
	if err = v.db.BatchSet(ctx, records, types.Transaction); err != nil {
		return res, err
	}
	return EpochResult{Epoch: epoch, Applied: applied}, nil
}

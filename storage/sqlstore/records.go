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

package sqlstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

// ErrUnknownRecord is returned for records or keys of a kind the store does not know.
var ErrUnknownRecord = errors.New("unknown record kind")

func encodeNodeKey(l types.NodeLabel) (Row, error) {
	length, value, err := encodeLabel("label_", l)
	if err != nil {
		return nil, err
	}
	return Row{length, value}, nil
}

func encodeValueKey(k types.ValueStateKey) (Row, error) {
	epoch, err := toInt64("epoch", k.Epoch)
	if err != nil {
		return nil, err
	}
	return Row{nonNil(k.RawLabel), epoch}, nil
}

// Get implements storage.Database.
func (s *Store) Get(ctx context.Context, key types.Key) (record types.Record, err error) {
	var (
		op    = "get " + key.Kind().String()
		query string
		args  Row
	)
	switch k := key.(type) {
	case types.RootKey:
		query = s.dialect.selectByKey(rootTable, rootColumns, rootKeyColumns)
		args = Row{rootID}
	case types.NodeLabel:
		query = s.dialect.selectByKey(nodeTable, nodeColumns, nodeKeyColumns)
		args, err = encodeNodeKey(k)
	case types.ValueStateKey:
		query = s.dialect.selectByKey(valueTable, valueColumns, valueKeyColumns)
		args, err = encodeValueKey(k)
	default:
		return nil, storage.Wrap(storage.KindOther, op, errors.Wrapf(ErrUnknownRecord, "%T", key))
	}
	if err != nil {
		return nil, storage.Wrap(storage.KindOther, op, err)
	}

	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, args...)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return storage.NotFound(op)
		}
		record, err = decodeRecord(key.Kind(), rows[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func decodeRecord(kind types.Kind, row Row) (types.Record, error) {
	switch kind {
	case types.RootKind:
		return DecodeRoot(row)
	case types.NodeKind:
		return DecodeNode(row)
	default:
		return DecodeValueState(row)
	}
}

// Set implements storage.Database.
func (s *Store) Set(ctx context.Context, record types.Record) error {
	op := "set " + record.Kind().String()
	var (
		query string
		row   Row
		err   error
	)
	switch r := record.(type) {
	case *types.TreeRoot:
		query = s.dialect.upsert(rootTable, rootColumns, rootKeyColumns)
		row, err = EncodeRoot(r)
	case *types.TreeNodeWithPreviousValue:
		query = s.dialect.upsert(nodeTable, nodeColumns, nodeKeyColumns)
		row, err = EncodeNode(r)
	case *types.ValueState:
		query = s.dialect.insert(valueTable, valueColumns)
		row, err = EncodeValueState(r)
	default:
		err = errors.Wrapf(ErrUnknownRecord, "%T", record)
	}
	if err != nil {
		return storage.Wrap(storage.KindOther, op, err)
	}
	return s.withConn(ctx, op, func(conn Conn) error {
		_, err := s.exec(ctx, conn, op, query, row...)
		return err
	})
}

// batchGroup is the staged form of all records (or keys) of one kind in a batch.
type batchGroup struct {
	kind  types.Kind
	table string
	cols  []Column
	keys  []Column
	rows  []Row
	// update selects upsert over insert-if-absent when merging.
	update bool
}

func (g *batchGroup) staging() string { return stagingTable(g.table) }

// BatchGet implements storage.Database. Keys are staged per kind and joined, absent
// keys are skipped. The tree root is a singleton and is refused.
func (s *Store) BatchGet(ctx context.Context, keys []types.Key) (records []types.Record, err error) {
	const op = "batch_get"
	if len(keys) == 0 {
		return []types.Record{}, nil
	}

	var (
		nodes, values []Row
		seenNodes     = make(map[types.NodeLabel]bool)
		seenValues    = make(map[string]bool)
	)
	for _, key := range keys {
		var row Row
		switch k := key.(type) {
		case types.RootKey:
			return nil, storage.Wrap(storage.KindOther, op, storage.ErrBatchUnsupported)
		case types.NodeLabel:
			if seenNodes[k] {
				continue
			}
			seenNodes[k] = true
			if row, err = encodeNodeKey(k); err == nil {
				nodes = append(nodes, row)
			}
		case types.ValueStateKey:
			id := fmt.Sprintf("%d/%x", k.Epoch, k.RawLabel)
			if seenValues[id] {
				continue
			}
			seenValues[id] = true
			if row, err = encodeValueKey(k); err == nil {
				values = append(values, row)
			}
		default:
			err = errors.Wrapf(ErrUnknownRecord, "%T", key)
		}
		if err != nil {
			return nil, storage.Wrap(storage.KindOther, op, err)
		}
	}

	var groups []*batchGroup
	if len(nodes) > 0 {
		groups = append(groups, &batchGroup{
			kind: types.NodeKind, table: nodeTable, cols: nodeColumns, keys: nodeKeyColumns, rows: nodes})
	}
	if len(values) > 0 {
		groups = append(groups, &batchGroup{
			kind: types.ValueStateKind, table: valueTable, cols: valueColumns, keys: valueKeyColumns, rows: values})
	}

	records = make([]types.Record, 0, len(keys))
	err = s.withConn(ctx, op, func(conn Conn) error {
		return s.inTx(ctx, conn, op, func() error {
			for _, g := range groups {
				if err := s.stage(ctx, conn, op, g.staging(), g.keys, nil, g.rows); err != nil {
					return err
				}
				rows, err := s.query(ctx, conn, op, selectJoinStaging(g.table, g.staging(), g.cols, g.keys))
				if err != nil {
					return err
				}
				for _, row := range rows {
					record, err := decodeRecord(g.kind, row)
					if err != nil {
						return err
					}
					records = append(records, record)
				}
				if _, err = s.exec(ctx, conn, op, dropStaging(g.staging())); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"requested": len(keys), "found": len(records)}).Debug("batch get")
	return records, nil
}

// BatchSet implements storage.Database. Records are grouped by kind; every group is
// sorted by its key, staged, and merged with one statement, and all groups commit or
// roll back together. Of several records sharing a key the last one wins.
func (s *Store) BatchSet(ctx context.Context, records []types.Record, state types.SetState) error {
	const op = "batch_set"
	if len(records) == 0 {
		return nil
	}

	groups, err := groupRecords(records)
	if err != nil {
		return storage.Wrap(storage.KindOther, op, err)
	}

	return s.withConn(ctx, op, func(conn Conn) error {
		return s.inTx(ctx, conn, op, func() error {
			for _, g := range groups {
				if err := s.stage(ctx, conn, op, g.staging(), g.cols, g.keys, g.rows); err != nil {
					return err
				}
				merge := s.dialect.mergeStaging(g.table, g.staging(), g.cols, g.keys, g.update)
				n, err := s.exec(ctx, conn, op, merge)
				if err != nil {
					return err
				}
				if _, err = s.exec(ctx, conn, op, dropStaging(g.staging())); err != nil {
					return err
				}
				log.WithFields(log.Fields{
					"kind":   g.kind.String(),
					"rows":   len(g.rows),
					"merged": n,
					"state":  state,
				}).Debug("batch merged")
			}
			return nil
		})
	})
}

// groupRecords splits records per kind, each group stable sorted by key with
// duplicate keys collapsed to their last occurrence, then encoded.
func groupRecords(records []types.Record) (groups []*batchGroup, err error) {
	var (
		roots  []*types.TreeRoot
		nodes  []*types.TreeNodeWithPreviousValue
		values []*types.ValueState
	)
	for _, record := range records {
		switch r := record.(type) {
		case *types.TreeRoot:
			roots = append(roots, r)
		case *types.TreeNodeWithPreviousValue:
			nodes = append(nodes, r)
		case *types.ValueState:
			values = append(values, r)
		default:
			return nil, errors.Wrapf(ErrUnknownRecord, "%T", record)
		}
	}

	if len(roots) > 0 {
		row, err := EncodeRoot(roots[len(roots)-1])
		if err != nil {
			return nil, err
		}
		groups = append(groups, &batchGroup{
			kind: types.RootKind, table: rootTable, cols: rootColumns, keys: rootKeyColumns,
			rows: []Row{row}, update: true,
		})
	}

	if len(nodes) > 0 {
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Label.Compare(nodes[j].Label) < 0
		})
		g := &batchGroup{
			kind: types.NodeKind, table: nodeTable, cols: nodeColumns, keys: nodeKeyColumns, update: true,
		}
		for i, n := range nodes {
			if i+1 < len(nodes) && nodes[i+1].Label == n.Label {
				continue
			}
			row, err := EncodeNode(n)
			if err != nil {
				return nil, err
			}
			g.rows = append(g.rows, row)
		}
		groups = append(groups, g)
	}

	if len(values) > 0 {
		key := func(i int) types.ValueStateKey { return values[i].Key().(types.ValueStateKey) }
		sort.SliceStable(values, func(i, j int) bool {
			return key(i).Compare(key(j)) < 0
		})
		g := &batchGroup{
			kind: types.ValueStateKind, table: valueTable, cols: valueColumns, keys: valueKeyColumns,
		}
		for i, v := range values {
			if i+1 < len(values) && key(i+1).Compare(key(i)) == 0 {
				continue
			}
			row, err := EncodeValueState(v)
			if err != nil {
				return nil, err
			}
			g.rows = append(g.rows, row)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

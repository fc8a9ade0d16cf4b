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
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

// ErrUnknownSelector is returned for a selector kind the store does not know.
var ErrUnknownSelector = errors.New("unknown value state selector")

// GetAllStates implements storage.Database.
func (s *Store) GetAllStates(ctx context.Context, rawLabel []byte) (states []*types.ValueState, err error) {
	const op = "get_all_states"
	query := fmt.Sprintf("SELECT %s FROM %s t WHERE t.raw_label = %s ORDER BY t.epoch ASC",
		qualified(valueColumns, "t"), valueTable, s.dialect.Placeholder(1))

	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, nonNil(rawLabel))
		if err != nil {
			return err
		}
		states = make([]*types.ValueState, 0, len(rows))
		for _, row := range rows {
			v, err := DecodeValueState(row)
			if err != nil {
				return err
			}
			states = append(states, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// selectorArg returns the column bound of sel. Stored epochs and versions never exceed
// MaxInt64, so AtOrBefore clamps to it and an out of range Exact or Version matches
// nothing, reported with ok false.
func selectorArg(sel types.Selector) (v int64, ok bool) {
	if sel.Value <= math.MaxInt64 {
		return int64(sel.Value), true
	}
	if sel.Kind == types.SelectAtOrBefore {
		return math.MaxInt64, true
	}
	return 0, false
}

// GetState implements storage.Database.
func (s *Store) GetState(ctx context.Context, rawLabel []byte, sel types.Selector) (state *types.ValueState, err error) {
	op := "get_state " + sel.Policy()
	query, withArg := s.dialect.selectState(sel)
	if query == "" {
		return nil, storage.Wrap(storage.KindOther, op, ErrUnknownSelector)
	}
	args := []interface{}{nonNil(rawLabel)}
	if withArg {
		v, ok := selectorArg(sel)
		if !ok {
			return nil, storage.NotFound(op)
		}
		args = append(args, v)
	}

	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, args...)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return storage.NotFound(op)
		}
		state, err = DecodeValueState(rows[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// GetLatestVersions implements storage.Database. The label set is staged once and
// resolved with a single grouped query.
func (s *Store) GetLatestVersions(ctx context.Context, rawLabels [][]byte, sel types.Selector) (
	result map[string]types.VersionedValue, err error) {
	op := "get_latest_versions " + sel.Policy()
	result = make(map[string]types.VersionedValue, len(rawLabels))
	if len(rawLabels) == 0 {
		return result, nil
	}

	staging := stagingTable("raw_labels")
	query, withArg := s.dialect.selectLatestVersions(staging, sel)
	if query == "" {
		return nil, storage.Wrap(storage.KindOther, op, ErrUnknownSelector)
	}
	var args []interface{}
	if withArg {
		v, ok := selectorArg(sel)
		if !ok {
			return result, nil
		}
		args = append(args, v)
	}

	labels := make([][]byte, len(rawLabels))
	copy(labels, rawLabels)
	sort.Slice(labels, func(i, j int) bool { return bytes.Compare(labels[i], labels[j]) < 0 })
	rows := make([]Row, 0, len(labels))
	for i, l := range labels {
		if i > 0 && bytes.Equal(labels[i-1], l) {
			continue
		}
		rows = append(rows, Row{nonNil(l)})
	}

	err = s.withConn(ctx, op, func(conn Conn) error {
		return s.inTx(ctx, conn, op, func() error {
			if err := s.stage(ctx, conn, op, staging, rawLabelColumns, rawLabelColumns, rows); err != nil {
				return err
			}
			found, err := s.query(ctx, conn, op, query, args...)
			if err != nil {
				return err
			}
			for _, row := range found {
				d := decoder{op: op, row: row}
				if !d.expect(3) {
					return d.err
				}
				label := d.bytes(0, "raw_label")
				value := types.VersionedValue{
					Version: d.uint64(1, "version"),
					Value:   d.bytes(2, "data"),
				}
				if d.err != nil {
					return d.err
				}
				result[string(label)] = value
			}
			_, err = s.exec(ctx, conn, op, dropStaging(staging))
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

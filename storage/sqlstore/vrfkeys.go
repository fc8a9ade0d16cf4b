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

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

// GetVrfKey implements storage.VrfKeyStore.
func (s *Store) GetVrfKey(ctx context.Context, rootKeyHash []byte) (record *types.VrfKeyRecord, err error) {
	const op = "get vrf key"
	query := s.dialect.selectByKey(vrfTable, vrfKeyColumns, vrfKeyColumns[:1])
	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, nonNil(rootKeyHash))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return storage.NotFound(op)
		}
		record, err = DecodeVrfKey(rows[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// StoreVrfKey implements storage.VrfKeyStore. A record is written once per root key.
func (s *Store) StoreVrfKey(ctx context.Context, record *types.VrfKeyRecord) error {
	const op = "store vrf key"
	return s.withConn(ctx, op, func(conn Conn) error {
		_, err := s.exec(ctx, conn, op, s.dialect.insert(vrfTable, vrfKeyColumns), EncodeVrfKey(record)...)
		return err
	})
}

// CountVrfKeys implements storage.VrfKeyStore.
func (s *Store) CountVrfKeys(ctx context.Context) (count int64, err error) {
	const op = "count vrf keys"
	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, fmt.Sprintf("SELECT COUNT(*) FROM %s", vrfTable))
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return storage.Corrupt(op, "want one row, got %d", len(rows))
		}
		d := decoder{op: op, row: rows[0]}
		if !d.expect(1) {
			return d.err
		}
		count = d.int64(0, "count")
		return d.err
	})
	return count, err
}

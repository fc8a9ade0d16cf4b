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

	"github.com/CovenantSQL/keydir/types"
)

// InsertQueueItem implements storage.QueueStore.
func (s *Store) InsertQueueItem(ctx context.Context, item *types.QueueItem) error {
	const op = "enqueue"
	return s.withConn(ctx, op, func(conn Conn) error {
		_, err := s.exec(ctx, conn, op, s.dialect.insert(queueTable, queueColumns), EncodeQueueItem(item)...)
		return err
	})
}

// PeekQueueItems implements storage.QueueStore. Items come in id order, a limit not
// above zero returns every item.
func (s *Store) PeekQueueItems(ctx context.Context, limit int) (items []*types.QueueItem, err error) {
	const op = "peek queue"
	query := fmt.Sprintf("SELECT %s FROM %s t ORDER BY t.id ASC", qualified(queueColumns, "t"), queueTable)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT " + s.dialect.Placeholder(1)
		args = append(args, int64(limit))
	}
	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, args...)
		if err != nil {
			return err
		}
		items = make([]*types.QueueItem, 0, len(rows))
		for _, row := range rows {
			item, err := DecodeQueueItem(row)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteQueueItems implements storage.QueueStore. The ids are staged and deleted with
// one semi join on the primary key.
func (s *Store) DeleteQueueItems(ctx context.Context, ids [][]byte) error {
	const op = "remove queue items"
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		if seen[string(id)] {
			continue
		}
		seen[string(id)] = true
		rows = append(rows, Row{nonNil(id)})
	}

	staging := stagingTable(queueTable)
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (SELECT s.id FROM %s s)", queueTable, staging)
	return s.withConn(ctx, op, func(conn Conn) error {
		return s.inTx(ctx, conn, op, func() error {
			if err := s.stage(ctx, conn, op, staging, queueKeyColumns, queueKeyColumns, rows); err != nil {
				return err
			}
			if _, err := s.exec(ctx, conn, op, query); err != nil {
				return err
			}
			_, err := s.exec(ctx, conn, op, dropStaging(staging))
			return err
		})
	})
}

// HasQueuedLabel implements storage.QueueStore.
func (s *Store) HasQueuedLabel(ctx context.Context, rawLabel []byte) (pending bool, err error) {
	const op = "queue pending check"
	query := fmt.Sprintf("SELECT 1 FROM %s t WHERE t.raw_label = %s LIMIT 1", queueTable, s.dialect.Placeholder(1))
	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, query, nonNil(rawLabel))
		pending = len(rows) > 0
		return err
	})
	return pending, err
}

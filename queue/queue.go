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

// Package queue is the durable publish queue: label/value writes accepted between two
// epochs wait here until the publisher applies them.
package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
	"github.com/CovenantSQL/keydir/utils/log"
)

// Error is the error returned by every queue operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("queue %s: %v", e.Op, e.Err) }

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error { return e.Err }

// Cause implements the pkg/errors causer.
func (e *Error) Cause() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Queue orders pending writes by a time ordered id.
type Queue struct {
	store storage.QueueStore
	newID func() (uuid.UUID, error)
}

// New returns a queue persisted in store.
func New(store storage.QueueStore) *Queue {
	return &Queue{store: store, newID: uuid.NewV7}
}

// Enqueue appends a label/value write and returns its id. Ids issued by one process are
// strictly increasing.
func (q *Queue) Enqueue(ctx context.Context, rawLabel, rawValue []byte) (uuid.UUID, error) {
	id, err := q.newID()
	if err != nil {
		return uuid.Nil, wrap("enqueue", errors.Wrap(err, "new id"))
	}
	item := &types.QueueItem{ID: id, RawLabel: rawLabel, RawValue: rawValue}
	if err = q.store.InsertQueueItem(ctx, item); err != nil {
		return uuid.Nil, wrap("enqueue", err)
	}
	log.WithField("id", id).Debug("enqueued write")
	return id, nil
}

// Peek returns up to limit items in id order without removing them, a limit not above
// zero returns every item.
func (q *Queue) Peek(ctx context.Context, limit int) ([]*types.QueueItem, error) {
	items, err := q.store.PeekQueueItems(ctx, limit)
	if err != nil {
		return nil, wrap("peek", err)
	}
	return items, nil
}

// Remove deletes the items with the given ids, unknown ids are ignored.
func (q *Queue) Remove(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([][]byte, len(ids))
	for i := range ids {
		raw[i] = append([]byte(nil), ids[i][:]...)
	}
	if err := q.store.DeleteQueueItems(ctx, raw); err != nil {
		return wrap("remove", err)
	}
	log.WithField("count", len(ids)).Debug("removed queue items")
	return nil
}

// IsPending reports whether a write of rawLabel waits in the queue.
func (q *Queue) IsPending(ctx context.Context, rawLabel []byte) (bool, error) {
	pending, err := q.store.HasQueuedLabel(ctx, rawLabel)
	if err != nil {
		return false, wrap("is pending", err)
	}
	return pending, nil
}

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

// Package storage defines the capability set the tree engine and the read handlers need
// from a key directory backend, together with the error taxonomy every backend reports.
//
// Backends are added by implementing Database; nothing in this package enumerates them.
// Exactly one writer process may run against a given directory at a time.
package storage

import (
	"context"

	"github.com/CovenantSQL/keydir/types"
)

// Database is the storage capability set of a key directory.
type Database interface {
	// Set upserts a root or node record and inserts a value state.
	Set(ctx context.Context, record types.Record) error
	// BatchSet writes all records in one transaction, all or nothing.
	BatchSet(ctx context.Context, records []types.Record, state types.SetState) error
	// Get returns the record stored under key, or a KindNotFound error.
	Get(ctx context.Context, key types.Key) (types.Record, error)
	// BatchGet returns the records found for keys, absent keys are skipped.
	BatchGet(ctx context.Context, keys []types.Key) ([]types.Record, error)

	// GetAllStates returns every value state of rawLabel ordered by epoch.
	GetAllStates(ctx context.Context, rawLabel []byte) ([]*types.ValueState, error)
	// GetState returns the value state of rawLabel chosen by sel.
	GetState(ctx context.Context, rawLabel []byte, sel types.Selector) (*types.ValueState, error)
	// GetLatestVersions resolves sel for every label in one set oriented query. The
	// result is keyed by string(rawLabel); labels without a match are absent.
	GetLatestVersions(ctx context.Context, rawLabels [][]byte, sel types.Selector) (
		map[string]types.VersionedValue, error)
}

// VrfKeyStore persists the encrypted VRF key records.
type VrfKeyStore interface {
	GetVrfKey(ctx context.Context, rootKeyHash []byte) (*types.VrfKeyRecord, error)
	StoreVrfKey(ctx context.Context, record *types.VrfKeyRecord) error
	CountVrfKeys(ctx context.Context) (int64, error)
}

// QueueStore persists pending publish requests.
type QueueStore interface {
	InsertQueueItem(ctx context.Context, item *types.QueueItem) error
	PeekQueueItems(ctx context.Context, limit int) ([]*types.QueueItem, error)
	DeleteQueueItems(ctx context.Context, ids [][]byte) error
	HasQueuedLabel(ctx context.Context, rawLabel []byte) (bool, error)
}

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

// Package sqlstore implements the key directory storage on relational databases.
//
// The engine is shared by every SQL backend, a backend only supplies a Pool and a
// Dialect. Every logical operation checks out one pooled connection and keeps it until
// the operation returns, transactions included. Batches are staged in session scoped
// temporary tables, merged with one statement, and wrapped in an explicit transaction;
// the engine never retries and never caches.
package sqlstore

import (
	"context"
	"time"

	"github.com/CovenantSQL/keydir/metric"
	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/utils/log"
)

// Store is the relational key directory storage.
type Store struct {
	pool    Pool
	dialect *Dialect
}

var (
	_ storage.Database    = (*Store)(nil)
	_ storage.VrfKeyStore = (*Store)(nil)
	_ storage.QueueStore  = (*Store)(nil)
)

// New returns a store issuing dialect statements over pool.
func New(pool Pool, dialect *Dialect) *Store {
	return &Store{pool: pool, dialect: dialect}
}

// Dialect returns the dialect of the store.
func (s *Store) Dialect() *Dialect { return s.dialect }

// Stats returns a snapshot of the connection pool.
func (s *Store) Stats() PoolStats { return s.pool.Stats() }

// Close closes the connection pool.
func (s *Store) Close() error { return s.pool.Close() }

// withConn runs fn on one pooled connection and reports the operation outcome.
func (s *Store) withConn(ctx context.Context, op string, fn func(conn Conn) error) (err error) {
	start := time.Now()
	defer func() {
		metric.ObserveStorageOp(op, time.Since(start), err)
		if err != nil && !storage.IsNotFound(err) {
			log.WithFields(log.Fields{
				"op":      op,
				"backend": s.dialect.Name,
				"kind":    storage.KindOf(err).String(),
			}).WithError(err).Debug("storage operation failed")
		}
	}()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return storage.Wrap(storage.KindConnection, op, err)
	}
	defer conn.Release()
	return fn(conn)
}

// inTx wraps fn in BEGIN / COMMIT on conn. A failure of fn is followed by an explicit
// ROLLBACK, and a failing rollback is reported instead of the original failure.
func (s *Store) inTx(ctx context.Context, conn Conn, op string, fn func() error) error {
	traceStatement(op, "BEGIN")
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return storage.Wrap(storage.KindTransaction, op+": begin", err)
	}
	if err := fn(); err != nil {
		// in flight work is allowed to settle even when the caller went away
		if _, rbErr := conn.Exec(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			log.WithFields(log.Fields{"op": op, "backend": s.dialect.Name}).
				WithError(rbErr).Error("rollback failed")
			return storage.RollbackFailed(op, err, rbErr)
		}
		return err
	}
	if _, err := conn.Exec(ctx, "COMMIT"); err != nil {
		if _, rbErr := conn.Exec(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			log.WithFields(log.Fields{"op": op, "backend": s.dialect.Name}).
				WithError(rbErr).Debug("rollback after failed commit")
		}
		return storage.Wrap(storage.KindTransaction, op+": commit", err)
	}
	return nil
}

func traceStatement(op, query string) {
	if log.IsLevelEnabled(log.TraceLevel) {
		log.WithField("op", op).WithField("sql", query).Trace("statement")
	}
}

func (s *Store) exec(ctx context.Context, conn Conn, op, query string, args ...interface{}) (int64, error) {
	traceStatement(op, query)
	n, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return n, storage.Wrap(storage.KindOther, op, err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, conn Conn, op, query string, args ...interface{}) ([]Row, error) {
	traceStatement(op, query)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Wrap(storage.KindOther, op, err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, storage.Wrap(storage.KindOther, op, err)
	}
	return out, nil
}

// stage creates a staging table and bulk loads rows into it.
func (s *Store) stage(ctx context.Context, conn Conn, op, name string, cols, keys []Column, rows []Row) error {
	if _, err := s.exec(ctx, conn, op, s.dialect.createStaging(name, cols, keys)); err != nil {
		return err
	}
	traceStatement(op, "COPY "+name)
	n, err := conn.CopyRows(ctx, name, columnNames(cols), rows)
	if err != nil {
		return storage.Wrap(storage.KindOther, op, err)
	}
	log.WithFields(log.Fields{"op": op, "table": name, "rows": n}).Debug("staged rows")
	return nil
}

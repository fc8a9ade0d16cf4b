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

// Package sqlite is the SQLite backend of the key directory storage.
//
// Every pooled connection is a database/sql connection pinned for one logical
// operation, so session scoped staging tables and explicit transactions stay on the
// connection that created them. A private in-memory database lives on one connection,
// its pool is always of size one.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	sqlite3 "github.com/CovenantSQL/go-sqlite3-encrypt"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/sqlstore"
	"github.com/CovenantSQL/keydir/utils/log"
)

const (
	driverName = "sqlite3-keydir"

	// DefaultBusyTimeout in milliseconds, waited by a writer on a locked database.
	DefaultBusyTimeout = "5000"
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) (err error) {
			_, err = c.Exec("PRAGMA foreign_keys=ON", nil)
			return
		},
	})
}

// Pool is a bounded pool of SQLite connections.
type Pool struct {
	db   *sql.DB
	size int
}

var _ sqlstore.Pool = (*Pool)(nil)

// Open opens the database named by dsn with at most poolSize connections.
func Open(ctx context.Context, dsn string, poolSize int) (p *Pool, err error) {
	parsed, err := NewDSN(dsn)
	if err != nil {
		return nil, storage.Wrap(storage.KindOther, "parse sqlite dsn", err)
	}
	if parsed.IsMemory() {
		poolSize = 1
	} else {
		parsed.SetDefault("_journal_mode", "WAL")
	}
	parsed.SetDefault("_busy_timeout", DefaultBusyTimeout)
	if poolSize <= 0 {
		poolSize = 1
	}

	db, err := sql.Open(driverName, parsed.Format())
	if err != nil {
		return nil, storage.Wrap(storage.KindConnection, "open sqlite", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Wrap(storage.KindConnection, "ping sqlite", err)
	}
	log.WithFields(log.Fields{"file": parsed.FileName(), "pool_size": poolSize}).Info("sqlite pool opened")
	return &Pool{db: db, size: poolSize}, nil
}

// OpenStore opens the database and returns the storage engine over it.
func OpenStore(ctx context.Context, dsn string, poolSize int) (*sqlstore.Store, error) {
	p, err := Open(ctx, dsn, poolSize)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(p, sqlstore.SQLite), nil
}

// Acquire implements sqlstore.Pool.
func (p *Pool) Acquire(ctx context.Context) (sqlstore.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, storage.Wrap(storage.KindConnection, "acquire", err)
	}
	return &conn{c: c}, nil
}

// Stats implements sqlstore.Pool.
func (p *Pool) Stats() sqlstore.PoolStats {
	st := p.db.Stats()
	return sqlstore.PoolStats{
		MaxConns:      p.size,
		TotalConns:    st.OpenConnections,
		AcquiredConns: st.InUse,
		IdleConns:     st.Idle,
	}
}

// Close implements sqlstore.Pool.
func (p *Pool) Close() error {
	return p.db.Close()
}

type conn struct {
	c *sql.Conn
}

// classify marks broken connections and lock contention as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return storage.Wrap(storage.KindConnection, "sqlite", err)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return storage.Wrap(storage.KindConnection, "sqlite", err)
	}
	return err
}

func (c *conn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := c.c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *conn) Query(ctx context.Context, query string, args ...interface{}) (sqlstore.Rows, error) {
	rs, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return &rows{rs: rs}, nil
}

// CopyRows loads rows with one prepared insert executed per row.
func (c *conn) CopyRows(ctx context.Context, table string, columns []string, data []sqlstore.Row) (n int64, err error) {
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := c.c.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), ph))
	if err != nil {
		return 0, classify(err)
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil && err == nil {
			err = classify(cerr)
		}
	}()
	for _, row := range data {
		if len(row) != len(columns) {
			return n, errors.Errorf("copy into %s: row has %d values for %d columns", table, len(row), len(columns))
		}
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return n, classify(err)
		}
		n++
	}
	return n, nil
}

func (c *conn) Release() {
	if err := c.c.Close(); err != nil {
		log.WithError(err).Warning("release sqlite connection")
	}
}

type rows struct {
	rs   *sql.Rows
	cols int
}

func (r *rows) Next() bool { return r.rs.Next() }

func (r *rows) Values() (sqlstore.Row, error) {
	if r.cols == 0 {
		cols, err := r.rs.Columns()
		if err != nil {
			return nil, classify(err)
		}
		r.cols = len(cols)
	}
	values := make(sqlstore.Row, r.cols)
	dest := make([]interface{}, r.cols)
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.rs.Scan(dest...); err != nil {
		return nil, classify(err)
	}
	return values, nil
}

func (r *rows) Err() error { return classify(r.rs.Err()) }

func (r *rows) Close() { _ = r.rs.Close() }

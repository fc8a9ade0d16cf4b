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
)

// Row is one positional row, in the column order of the statement that produced it.
type Row []interface{}

// Rows iterates the result of a query.
type Rows interface {
	Next() bool
	Values() (Row, error)
	Err() error
	Close()
}

// Conn is a pooled connection checked out for one logical operation.
type Conn interface {
	// Exec runs a statement and returns the affected row count.
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)
	// Query runs a statement returning rows. The rows must be closed before the
	// connection is used again.
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	// CopyRows bulk loads rows into table, positionally matched with columns.
	CopyRows(ctx context.Context, table string, columns []string, rows []Row) (int64, error)
	// Release returns the connection to its pool.
	Release()
}

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	MaxConns      int
	TotalConns    int
	AcquiredConns int
	IdleConns     int
}

// Pool is the bounded connection pool of a backend.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stats() PoolStats
	Close() error
}

// collect drains rows into memory and closes them.
func collect(rows Rows) (out []Row, err error) {
	defer rows.Close()
	for rows.Next() {
		var row Row
		if row, err = rows.Values(); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

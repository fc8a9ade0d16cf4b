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

// Package postgres is the PostgreSQL backend of the key directory storage, built on
// the pgx connection pool. Staging tables are loaded with COPY.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/storage/sqlstore"
	"github.com/CovenantSQL/keydir/utils/log"
)

// Pool is a bounded pool of PostgreSQL connections.
type Pool struct {
	pool *pgxpool.Pool
}

var _ sqlstore.Pool = (*Pool)(nil)

// Open connects to dsn with at most poolSize connections and pings the server.
func Open(ctx context.Context, dsn string, poolSize int) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storage.Wrap(storage.KindOther, "parse postgres dsn", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storage.Wrap(storage.KindConnection, "open postgres", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Wrap(storage.KindConnection, "ping postgres", err)
	}
	log.WithFields(log.Fields{
		"host":      cfg.ConnConfig.Host,
		"database":  cfg.ConnConfig.Database,
		"pool_size": cfg.MaxConns,
	}).Info("postgres pool opened")
	return &Pool{pool: pool}, nil
}

// OpenStore connects and returns the storage engine over the pool.
func OpenStore(ctx context.Context, dsn string, poolSize int) (*sqlstore.Store, error) {
	p, err := Open(ctx, dsn, poolSize)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(p, sqlstore.Postgres), nil
}

// Acquire implements sqlstore.Pool.
func (p *Pool) Acquire(ctx context.Context) (sqlstore.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, storage.Wrap(storage.KindConnection, "acquire", err)
	}
	return &conn{c: c}, nil
}

// Stats implements sqlstore.Pool.
func (p *Pool) Stats() sqlstore.PoolStats {
	st := p.pool.Stat()
	return sqlstore.PoolStats{
		MaxConns:      int(st.MaxConns()),
		TotalConns:    int(st.TotalConns()),
		AcquiredConns: int(st.AcquiredConns()),
		IdleConns:     int(st.IdleConns()),
	}
}

// Close implements sqlstore.Pool.
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// classify marks connection exceptions, shutdowns and dropped sockets as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return storage.Wrap(storage.KindConnection, "postgres", err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return storage.Wrap(storage.KindConnection, "postgres", err)
	}
	return err
}

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := c.c.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

func (c *conn) Query(ctx context.Context, query string, args ...interface{}) (sqlstore.Rows, error) {
	rs, err := c.c.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return &rows{rs: rs}, nil
}

// CopyRows loads rows with the COPY protocol.
func (c *conn) CopyRows(ctx context.Context, table string, columns []string, data []sqlstore.Row) (int64, error) {
	src := make([][]interface{}, len(data))
	for i, row := range data {
		src[i] = row
	}
	n, err := c.c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(src))
	return n, classify(err)
}

func (c *conn) Release() {
	c.c.Release()
}

type rows struct {
	rs pgx.Rows
}

func (r *rows) Next() bool { return r.rs.Next() }

func (r *rows) Values() (sqlstore.Row, error) {
	values, err := r.rs.Values()
	if err != nil {
		return nil, classify(err)
	}
	return values, nil
}

func (r *rows) Err() error { return classify(r.rs.Err()) }

func (r *rows) Close() { r.rs.Close() }

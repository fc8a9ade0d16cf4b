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

// Package open selects the storage backend named by a database url.
package open

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xo/dburl"

	"github.com/CovenantSQL/keydir/storage/postgres"
	"github.com/CovenantSQL/keydir/storage/sqlite"
	"github.com/CovenantSQL/keydir/storage/sqlstore"
)

// DefaultPoolSize is the connection pool size used when none is configured.
const DefaultPoolSize = 100

// ErrUnsupportedDatabase is returned for a url naming a database without a backend.
var ErrUnsupportedDatabase = errors.New("unsupported database")

// Opener opens the backend of one database driver.
type Opener func(ctx context.Context, u *dburl.URL, poolSize int) (*sqlstore.Store, error)

var openers = map[string]Opener{
	"postgres": func(ctx context.Context, u *dburl.URL, poolSize int) (*sqlstore.Store, error) {
		return postgres.OpenStore(ctx, u.DSN, poolSize)
	},
	"sqlite3": func(ctx context.Context, u *dburl.URL, poolSize int) (*sqlstore.Store, error) {
		dsn := u.DSN
		if dsn == "" {
			dsn = u.Path
		}
		return sqlite.OpenStore(ctx, dsn, poolSize)
	},
}

// Register adds or replaces the opener of a dburl driver name.
func Register(driver string, opener Opener) {
	openers[driver] = opener
}

// Driver returns the dburl driver name of url.
func Driver(url string) (string, error) {
	u, err := dburl.Parse(url)
	if err != nil {
		return "", errors.Wrap(err, "parse database url")
	}
	return u.Driver, nil
}

// Open opens the storage engine for url, e.g. postgres://user@host/db or
// sqlite:/var/lib/keydir/keydir.db. A pool size not above zero uses DefaultPoolSize.
func Open(ctx context.Context, url string, poolSize int) (*sqlstore.Store, error) {
	u, err := dburl.Parse(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	opener, ok := openers[u.Driver]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDatabase, "driver %s", u.Driver)
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return opener(ctx, u, poolSize)
}

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
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/utils/log"
)

// NoTransactionDirective as the first line of an up.sql runs it outside a transaction.
const NoTransactionDirective = "-- keydir:no-transaction"

// Migration is one schema step.
type Migration struct {
	Name          string
	SQL           string
	NoTransaction bool
}

// LoadMigrations reads every <name>/up.sql of fsys in lexicographic name order.
func LoadMigrations(fsys fs.FS) (migrations []Migration, err error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(e.Name(), "up.sql"))
		if err != nil {
			return nil, errors.Wrapf(err, "read migration %s", e.Name())
		}
		text := string(body)
		firstLine := strings.SplitN(text, "\n", 2)[0]
		migrations = append(migrations, Migration{
			Name:          e.Name(),
			SQL:           text,
			NoTransaction: strings.TrimSpace(firstLine) == NoTransactionDirective,
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Name < migrations[j].Name })
	return migrations, nil
}

// Migrate applies every embedded migration of the dialect not yet in the ledger and
// returns the names it applied. Running it again applies nothing.
func (s *Store) Migrate(ctx context.Context) (applied []string, err error) {
	migrations, err := LoadMigrations(s.dialect.Migrations)
	if err != nil {
		return nil, err
	}
	return s.ApplyMigrations(ctx, migrations)
}

// ApplyMigrations applies the given migrations in order, skipping recorded names.
func (s *Store) ApplyMigrations(ctx context.Context, migrations []Migration) (applied []string, err error) {
	const op = "migrate"
	err = s.withConn(ctx, op, func(conn Conn) error {
		ledger := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name TEXT NOT NULL PRIMARY KEY, applied_at %s NOT NULL)",
			ledgerTable, s.dialect.TypeName(Int64Column))
		if _, err := s.exec(ctx, conn, op, ledger); err != nil {
			return err
		}
		rows, err := s.query(ctx, conn, op, "SELECT name FROM "+ledgerTable)
		if err != nil {
			return err
		}
		done := make(map[string]bool, len(rows))
		for _, row := range rows {
			d := decoder{op: op, row: row}
			if d.expect(1) {
				done[string(d.bytes(0, "name"))] = true
			}
			if d.err != nil {
				return d.err
			}
		}

		record := fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (%s)", ledgerTable, s.dialect.placeholders(1, 2))
		for _, m := range migrations {
			if done[m.Name] {
				continue
			}
			m := m
			step := func() error {
				if _, err := s.exec(ctx, conn, op+" "+m.Name, m.SQL); err != nil {
					return err
				}
				_, err := s.exec(ctx, conn, op, record, m.Name, time.Now().Unix())
				return err
			}
			if m.NoTransaction {
				err = step()
			} else {
				err = s.inTx(ctx, conn, op+" "+m.Name, step)
			}
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{"migration": m.Name, "backend": s.dialect.Name}).Info("applied migration")
			applied = append(applied, m.Name)
		}
		return nil
	})
	return applied, err
}

// AppliedMigrations lists the ledger in name order.
func (s *Store) AppliedMigrations(ctx context.Context) (names []string, err error) {
	const op = "list migrations"
	err = s.withConn(ctx, op, func(conn Conn) error {
		rows, err := s.query(ctx, conn, op, "SELECT name FROM "+ledgerTable+" ORDER BY name ASC")
		if err != nil {
			return err
		}
		for _, row := range rows {
			d := decoder{op: op, row: row}
			if d.expect(1) {
				names = append(names, string(d.bytes(0, "name")))
			}
			if d.err != nil {
				return d.err
			}
		}
		return nil
	})
	return names, err
}

// Drop removes every key directory table, the ledger included.
func (s *Store) Drop(ctx context.Context) error {
	const op = "drop"
	return s.withConn(ctx, op, func(conn Conn) error {
		for _, table := range []string{queueTable, vrfTable, valueTable, nodeTable, rootTable, ledgerTable} {
			if _, err := s.exec(ctx, conn, op, "DROP TABLE IF EXISTS "+table); err != nil {
				return err
			}
		}
		log.WithField("backend", s.dialect.Name).Warning("dropped all key directory tables")
		return nil
	})
}

// Clean drops every table and migrates from scratch.
func (s *Store) Clean(ctx context.Context) ([]string, error) {
	if err := s.Drop(ctx); err != nil {
		return nil, err
	}
	return s.Migrate(ctx)
}

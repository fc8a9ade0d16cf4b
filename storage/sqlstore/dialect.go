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
	"embed"
	"io/fs"
	"strconv"
)

// ColumnType is the logical type of a table column.
type ColumnType int

const (
	// Int16Column is a 16-bit signed integer.
	Int16Column ColumnType = iota
	// Int32Column is a 32-bit signed integer.
	Int32Column
	// Int64Column is a 64-bit signed integer.
	Int64Column
	// BinaryColumn is an opaque byte string.
	BinaryColumn
)

// Column describes one column of a table or staging table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Dialect holds everything that differs between SQL backends.
type Dialect struct {
	Name string
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder func(n int) string
	// True is the boolean literal used to disambiguate INSERT ... SELECT ... ON CONFLICT.
	True string
	types map[ColumnType]string
	// Migrations holds one directory per migration, each with an up.sql file.
	Migrations fs.FS
}

// TypeName returns the SQL type used for t.
func (d *Dialect) TypeName(t ColumnType) string {
	return d.types[t]
}

//go:embed migrations
var migrationFiles embed.FS

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(migrationFiles, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

var (
	// Postgres is the PostgreSQL dialect.
	Postgres = &Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		True:        "true",
		types: map[ColumnType]string{
			Int16Column:  "SMALLINT",
			Int32Column:  "INTEGER",
			Int64Column:  "BIGINT",
			BinaryColumn: "BYTEA",
		},
		Migrations: mustSub("migrations/postgres"),
	}
	// SQLite is the SQLite dialect.
	SQLite = &Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
		True:        "1",
		types: map[ColumnType]string{
			Int16Column:  "INTEGER",
			Int32Column:  "INTEGER",
			Int64Column:  "INTEGER",
			BinaryColumn: "BLOB",
		},
		Migrations: mustSub("migrations/sqlite"),
	}
)

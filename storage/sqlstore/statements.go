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
	"fmt"
	"strings"

	"github.com/CovenantSQL/keydir/types"
)

func stagingTable(table string) string {
	return "tmp_" + table
}

// qualified returns "alias.c1, alias.c2, ..." or the bare list when alias is empty.
func qualified(cols []Column, alias string) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		if alias == "" {
			names[i] = c.Name
		} else {
			names[i] = alias + "." + c.Name
		}
	}
	return strings.Join(names, ", ")
}

func (d *Dialect) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Placeholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// keyCondition returns "alias.k1 = $from AND alias.k2 = $from+1 ...".
func (d *Dialect) keyCondition(keys []Column, alias string, from int) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s.%s = %s", alias, k.Name, d.Placeholder(from+i))
	}
	return strings.Join(conds, " AND ")
}

func joinCondition(keys []Column, left, right string) string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("%s.%s = %s.%s", left, k.Name, right, k.Name)
	}
	return strings.Join(conds, " AND ")
}

// createStaging builds the DDL of a session scoped staging table. Its column order is
// the order rows are bulk loaded in.
func (d *Dialect) createStaging(name string, cols []Column, keys []Column) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		def := c.Name + " " + d.TypeName(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+qualified(keys, "")+")")
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s (%s)", name, strings.Join(defs, ", "))
}

func dropStaging(name string) string {
	return "DROP TABLE " + name
}

func (d *Dialect) selectByKey(table string, cols, keys []Column) string {
	return fmt.Sprintf("SELECT %s FROM %s t WHERE %s",
		qualified(cols, "t"), table, d.keyCondition(keys, "t", 1))
}

func selectJoinStaging(table, staging string, cols, keys []Column) string {
	return fmt.Sprintf("SELECT %s FROM %s t INNER JOIN %s s ON %s",
		qualified(cols, "t"), table, staging, joinCondition(keys, "t", "s"))
}

func (d *Dialect) insert(table string, cols []Column) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, qualified(cols, ""), d.placeholders(1, len(cols)))
}

func updateSet(cols, keys []Column) string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k.Name] = true
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !isKey[c.Name] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
		}
	}
	return strings.Join(sets, ", ")
}

func (d *Dialect) upsert(table string, cols, keys []Column) string {
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		d.insert(table, cols), qualified(keys, ""), updateSet(cols, keys))
}

// mergeStaging moves every staged row into table with one set oriented statement.
// Without update the merge only inserts missing keys.
func (d *Dialect) mergeStaging(table, staging string, cols, keys []Column, update bool) string {
	action := "DO NOTHING"
	if update {
		action = "DO UPDATE SET " + updateSet(cols, keys)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE %s ORDER BY %s ON CONFLICT (%s) %s",
		table, qualified(cols, ""), qualified(cols, ""), staging, d.True,
		qualified(keys, ""), qualified(keys, ""), action)
}

// selectState builds the point lookup of one value state of a raw label.
func (d *Dialect) selectState(sel types.Selector) (query string, withArg bool) {
	base := fmt.Sprintf("SELECT %s FROM %s t WHERE t.raw_label = %s",
		qualified(valueColumns, "t"), valueTable, d.Placeholder(1))
	switch sel.Kind {
	case types.SelectExact:
		return base + " AND t.epoch = " + d.Placeholder(2), true
	case types.SelectVersion:
		return base + " AND t.version = " + d.Placeholder(2) + " ORDER BY t.epoch DESC LIMIT 1", true
	case types.SelectMostRecent:
		return base + " ORDER BY t.epoch DESC LIMIT 1", false
	case types.SelectEarliest:
		return base + " ORDER BY t.epoch ASC LIMIT 1", false
	case types.SelectAtOrBefore:
		return base + " AND t.epoch <= " + d.Placeholder(2) + " ORDER BY t.epoch DESC LIMIT 1", true
	default:
		return "", false
	}
}

// selectLatestVersions builds the grouped lookup over a staged label set: one epoch
// aggregate per label, joined back for version and data.
func (d *Dialect) selectLatestVersions(staging string, sel types.Selector) (query string, withArg bool) {
	agg, filter := "MAX", d.True
	switch sel.Kind {
	case types.SelectExact:
		filter, withArg = "x.epoch = "+d.Placeholder(1), true
	case types.SelectVersion:
		filter, withArg = "x.version = "+d.Placeholder(1), true
	case types.SelectMostRecent:
	case types.SelectEarliest:
		agg = "MIN"
	case types.SelectAtOrBefore:
		filter, withArg = "x.epoch <= "+d.Placeholder(1), true
	default:
		return "", false
	}
	query = fmt.Sprintf(
		"SELECT v.raw_label, v.version, v.data FROM %s v INNER JOIN ("+
			"SELECT x.raw_label, %s(x.epoch) AS epoch FROM %s x INNER JOIN %s s ON s.raw_label = x.raw_label "+
			"WHERE %s GROUP BY x.raw_label"+
			") m ON m.raw_label = v.raw_label AND m.epoch = v.epoch",
		valueTable, agg, valueTable, staging, filter)
	return query, withArg
}

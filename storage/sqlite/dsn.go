/*
 * Copyright 2018 The CovenantSQL Authors.
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

package sqlite

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrBadParam is returned for a DSN parameter without a value.
var ErrBadParam = errors.New("unrecognized dsn parameter")

// DSN represents a sqlite connection string.
type DSN struct {
	filename string
	params   map[string]string
}

// NewDSN parses the given string and returns a DSN.
func NewDSN(s string) (*DSN, error) {
	parts := strings.SplitN(s, "?", 2)

	dsn := &DSN{
		filename: strings.TrimPrefix(parts[0], "file:"),
		params:   make(map[string]string),
	}

	if len(parts) < 2 || parts[1] == "" {
		return dsn, nil
	}

	for _, v := range strings.Split(parts[1], "&") {
		param := strings.SplitN(v, "=", 2)
		if len(param) != 2 {
			return nil, errors.Wrap(ErrBadParam, v)
		}
		dsn.params[param[0]] = param[1]
	}

	return dsn, nil
}

// Format formats DSN to a connection string, parameters in name order.
func (dsn *DSN) Format() string {
	if len(dsn.params) == 0 {
		return "file:" + dsn.filename
	}

	keys := make([]string, 0, len(dsn.params))
	for k := range dsn.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, k+"="+dsn.params[k])
	}

	return "file:" + dsn.filename + "?" + strings.Join(params, "&")
}

// FileName gets the sqlite database file name of DSN.
func (dsn *DSN) FileName() string { return dsn.filename }

// AddParam sets a parameter, an empty value removes it.
func (dsn *DSN) AddParam(key, value string) {
	if dsn.params == nil {
		dsn.params = make(map[string]string)
	}
	if value == "" {
		delete(dsn.params, key)
	} else {
		dsn.params[key] = value
	}
}

// SetDefault sets a parameter unless the DSN already carries it.
func (dsn *DSN) SetDefault(key, value string) {
	if _, ok := dsn.params[key]; !ok {
		dsn.AddParam(key, value)
	}
}

// GetParam gets the value.
func (dsn *DSN) GetParam(key string) (value string, ok bool) {
	value, ok = dsn.params[key]
	return
}

// IsMemory reports whether the DSN names a private in-memory database.
func (dsn *DSN) IsMemory() bool {
	if dsn.filename == ":memory:" || dsn.filename == "" {
		return true
	}
	mode, _ := dsn.GetParam("mode")
	return mode == "memory"
}

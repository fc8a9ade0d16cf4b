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

package types

import (
	"bytes"
	"fmt"
)

// ValueState is one published version of the value bound to a raw label.
type ValueState struct {
	RawLabel []byte
	Epoch    uint64
	Version  uint64
	Label    NodeLabel
	Value    []byte
}

// Kind implements Record.
func (v *ValueState) Kind() Kind { return ValueStateKind }

// Key implements Record.
func (v *ValueState) Key() Key {
	return ValueStateKey{RawLabel: v.RawLabel, Epoch: v.Epoch}
}

// ValueStateKey identifies a value state by raw label and epoch.
type ValueStateKey struct {
	RawLabel []byte
	Epoch    uint64
}

// Kind implements Key.
func (k ValueStateKey) Kind() Kind { return ValueStateKind }

// Compare orders keys by raw label bytes, then by epoch.
func (k ValueStateKey) Compare(o ValueStateKey) int {
	if c := bytes.Compare(k.RawLabel, o.RawLabel); c != 0 {
		return c
	}
	switch {
	case k.Epoch < o.Epoch:
		return -1
	case k.Epoch > o.Epoch:
		return 1
	default:
		return 0
	}
}

// SelectorKind is the policy used to pick one value state of a label.
type SelectorKind int

const (
	// SelectExact picks the state published at exactly the given epoch.
	SelectExact SelectorKind = iota
	// SelectVersion picks the state carrying exactly the given version.
	SelectVersion
	// SelectMostRecent picks the state with the highest epoch.
	SelectMostRecent
	// SelectEarliest picks the state with the lowest epoch.
	SelectEarliest
	// SelectAtOrBefore picks the state with the highest epoch not above the given epoch.
	SelectAtOrBefore
)

// Selector chooses one value state out of the history of a label.
type Selector struct {
	Kind  SelectorKind
	Value uint64
}

// Exact selects the state published at epoch.
func Exact(epoch uint64) Selector { return Selector{Kind: SelectExact, Value: epoch} }

// Version selects the state carrying version.
func Version(version uint64) Selector { return Selector{Kind: SelectVersion, Value: version} }

// MostRecent selects the latest state.
func MostRecent() Selector { return Selector{Kind: SelectMostRecent} }

// Earliest selects the first state.
func Earliest() Selector { return Selector{Kind: SelectEarliest} }

// AtOrBefore selects the latest state whose epoch is not above epoch.
func AtOrBefore(epoch uint64) Selector { return Selector{Kind: SelectAtOrBefore, Value: epoch} }

// Policy names the selection policy without its argument.
func (s Selector) Policy() string {
	switch s.Kind {
	case SelectExact:
		return "exact"
	case SelectVersion:
		return "version"
	case SelectMostRecent:
		return "most_recent"
	case SelectEarliest:
		return "earliest"
	case SelectAtOrBefore:
		return "at_or_before"
	default:
		return "unknown"
	}
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectExact:
		return fmt.Sprintf("exact(%d)", s.Value)
	case SelectVersion:
		return fmt.Sprintf("version(%d)", s.Value)
	case SelectMostRecent:
		return "most_recent"
	case SelectEarliest:
		return "earliest"
	case SelectAtOrBefore:
		return fmt.Sprintf("at_or_before(%d)", s.Value)
	default:
		return fmt.Sprintf("selector(%d)", int(s.Kind))
	}
}

// VersionedValue is the version and payload of a label returned by bulk lookups.
type VersionedValue struct {
	Version uint64
	Value   []byte
}

// LabelValue is one pending write handed to the tree engine.
type LabelValue struct {
	RawLabel []byte
	RawValue []byte
}

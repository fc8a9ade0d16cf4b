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

// Package types defines the records persisted by the key directory storage layer.
package types

import (
	"bytes"
	"fmt"
)

const (
	// LabelSize is the byte size of a node label value.
	LabelSize = 32
	// HashSize is the byte size of a tree node hash.
	HashSize = 32
)

// Kind identifies one of the persisted record kinds.
type Kind int

const (
	// RootKind is the singleton tree root counter.
	RootKind Kind = iota
	// NodeKind is a tree node with its optional previous value.
	NodeKind
	// ValueStateKind is one published version of a raw label.
	ValueStateKind
)

func (k Kind) String() string {
	switch k {
	case RootKind:
		return "Azks"
	case NodeKind:
		return "TreeNode"
	case ValueStateKind:
		return "ValueState"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Record is a persisted record of one of the three kinds.
type Record interface {
	Kind() Kind
	Key() Key
}

// Key identifies a single persisted record.
type Key interface {
	Kind() Kind
}

// SetState tells the storage layer which caller path produced a batch write.
type SetState int

const (
	// General writes come from ordinary operation.
	General SetState = iota
	// Transaction writes are the flush of a tree engine transaction.
	Transaction
)

// RootKey is the constant key of the tree root singleton.
type RootKey struct{}

// Kind implements Key.
func (RootKey) Kind() Kind { return RootKind }

// TreeRoot holds the root counters of the tree.
type TreeRoot struct {
	Epoch    uint64
	NumNodes uint64
}

// Kind implements Record.
func (r *TreeRoot) Kind() Kind { return RootKind }

// Key implements Record.
func (r *TreeRoot) Key() Key { return RootKey{} }

// NodeLabel is the position of a node inside the tree.
type NodeLabel struct {
	Value  [LabelSize]byte
	Length uint32
}

// Kind implements Key.
func (l NodeLabel) Kind() Kind { return NodeKind }

// Compare orders labels by value bytes, then by length.
func (l NodeLabel) Compare(o NodeLabel) int {
	if c := bytes.Compare(l.Value[:], o.Value[:]); c != 0 {
		return c
	}
	switch {
	case l.Length < o.Length:
		return -1
	case l.Length > o.Length:
		return 1
	default:
		return 0
	}
}

func (l NodeLabel) String() string {
	return fmt.Sprintf("%x/%d", l.Value[:], l.Length)
}

// TreeNode is the value part of a node.
type TreeNode struct {
	LastEpoch          uint64
	MinDescendantEpoch uint64
	Parent             NodeLabel
	NodeType           uint8
	LeftChild          *NodeLabel
	RightChild         *NodeLabel
	Hash               [HashSize]byte
}

// Equal reports whether both nodes carry identical fields.
func (n *TreeNode) Equal(o *TreeNode) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.LastEpoch == o.LastEpoch &&
		n.MinDescendantEpoch == o.MinDescendantEpoch &&
		n.Parent == o.Parent &&
		n.NodeType == o.NodeType &&
		labelPtrEqual(n.LeftChild, o.LeftChild) &&
		labelPtrEqual(n.RightChild, o.RightChild) &&
		n.Hash == o.Hash
}

func labelPtrEqual(a, b *NodeLabel) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// TreeNodeWithPreviousValue is the persisted form of a node: the latest value plus the
// value it replaced, kept for historical queries.
type TreeNodeWithPreviousValue struct {
	Label    NodeLabel
	Latest   TreeNode
	Previous *TreeNode
}

// Kind implements Record.
func (n *TreeNodeWithPreviousValue) Kind() Kind { return NodeKind }

// Key implements Record.
func (n *TreeNodeWithPreviousValue) Key() Key { return n.Label }

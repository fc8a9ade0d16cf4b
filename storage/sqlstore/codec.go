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
	"math"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/keydir/storage"
	"github.com/CovenantSQL/keydir/types"
)

const (
	rootTable   = "akd_azks"
	nodeTable   = "akd_history_tree_nodes"
	valueTable  = "akd_values"
	vrfTable    = "akd_vrf_keys"
	queueTable  = "akd_publish_queue"
	ledgerTable = "akd_migrations"

	// rootID is the constant key of the only row in the root table.
	rootID int16 = 1
)

// ErrValueOutOfRange is returned when a record field does not fit its SQL column.
var ErrValueOutOfRange = errors.New("value out of column range")

// Column lists are the single source of both staging DDL and row encoding, a bulk
// load is positional so the two must never drift apart.
var (
	rootColumns = []Column{
		{Name: "id", Type: Int16Column},
		{Name: "epoch", Type: Int64Column},
		{Name: "num_nodes", Type: Int64Column},
	}
	rootKeyColumns = rootColumns[:1]

	nodeColumns = []Column{
		{Name: "label_len", Type: Int32Column},
		{Name: "label_val", Type: BinaryColumn},
		{Name: "last_epoch", Type: Int64Column},
		{Name: "least_descendant_ep", Type: Int64Column},
		{Name: "parent_label_len", Type: Int32Column},
		{Name: "parent_label_val", Type: BinaryColumn},
		{Name: "node_type", Type: Int16Column},
		{Name: "left_child_len", Type: Int32Column, Nullable: true},
		{Name: "left_child_label_val", Type: BinaryColumn, Nullable: true},
		{Name: "right_child_len", Type: Int32Column, Nullable: true},
		{Name: "right_child_label_val", Type: BinaryColumn, Nullable: true},
		{Name: "hash", Type: BinaryColumn},
		{Name: "p_last_epoch", Type: Int64Column, Nullable: true},
		{Name: "p_least_descendant_ep", Type: Int64Column, Nullable: true},
		{Name: "p_parent_label_len", Type: Int32Column, Nullable: true},
		{Name: "p_parent_label_val", Type: BinaryColumn, Nullable: true},
		{Name: "p_node_type", Type: Int16Column, Nullable: true},
		{Name: "p_left_child_len", Type: Int32Column, Nullable: true},
		{Name: "p_left_child_label_val", Type: BinaryColumn, Nullable: true},
		{Name: "p_right_child_len", Type: Int32Column, Nullable: true},
		{Name: "p_right_child_label_val", Type: BinaryColumn, Nullable: true},
		{Name: "p_hash", Type: BinaryColumn, Nullable: true},
	}
	nodeKeyColumns = nodeColumns[:2]

	valueColumns = []Column{
		{Name: "raw_label", Type: BinaryColumn},
		{Name: "epoch", Type: Int64Column},
		{Name: "version", Type: Int64Column},
		{Name: "node_label_val", Type: BinaryColumn},
		{Name: "node_label_len", Type: Int32Column},
		{Name: "data", Type: BinaryColumn},
	}
	valueKeyColumns = valueColumns[:2]

	vrfKeyColumns = []Column{
		{Name: "root_key_hash", Type: BinaryColumn},
		{Name: "root_key_type", Type: Int16Column},
		{Name: "enc_sym_key", Type: BinaryColumn, Nullable: true},
		{Name: "sym_enc_vrf_key", Type: BinaryColumn},
		{Name: "nonce", Type: BinaryColumn},
	}

	queueColumns = []Column{
		{Name: "id", Type: BinaryColumn},
		{Name: "raw_label", Type: BinaryColumn},
		{Name: "raw_value", Type: BinaryColumn},
	}
	queueKeyColumns = queueColumns[:1]

	rawLabelColumns = []Column{
		{Name: "raw_label", Type: BinaryColumn},
	}
)

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func toInt64(col string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Wrapf(ErrValueOutOfRange, "%s: %d", col, v)
	}
	return int64(v), nil
}

func toInt32(col string, v uint32) (int32, error) {
	if v > math.MaxInt32 {
		return 0, errors.Wrapf(ErrValueOutOfRange, "%s: %d", col, v)
	}
	return int32(v), nil
}

// EncodeRoot encodes the tree root in rootColumns order.
func EncodeRoot(r *types.TreeRoot) (Row, error) {
	epoch, err := toInt64("epoch", r.Epoch)
	if err != nil {
		return nil, err
	}
	num, err := toInt64("num_nodes", r.NumNodes)
	if err != nil {
		return nil, err
	}
	return Row{rootID, epoch, num}, nil
}

// DecodeRoot decodes a row produced by selecting rootColumns.
func DecodeRoot(row Row) (*types.TreeRoot, error) {
	d := decoder{op: "decode azks", row: row}
	if !d.expect(len(rootColumns)) {
		return nil, d.err
	}
	r := &types.TreeRoot{
		Epoch:    d.uint64(1, "epoch"),
		NumNodes: d.uint64(2, "num_nodes"),
	}
	return r, d.err
}

func encodeLabel(prefix string, l types.NodeLabel) (length interface{}, value interface{}, err error) {
	n, err := toInt32(prefix+"len", l.Length)
	if err != nil {
		return nil, nil, err
	}
	return n, append([]byte(nil), l.Value[:]...), nil
}

func encodeOptLabel(prefix string, l *types.NodeLabel) (length interface{}, value interface{}, err error) {
	if l == nil {
		return nil, nil, nil
	}
	return encodeLabel(prefix, *l)
}

// encodeTreeNode appends the ten columns of one node value.
func encodeTreeNode(row Row, n *types.TreeNode) (Row, error) {
	last, err := toInt64("last_epoch", n.LastEpoch)
	if err != nil {
		return nil, err
	}
	least, err := toInt64("least_descendant_ep", n.MinDescendantEpoch)
	if err != nil {
		return nil, err
	}
	pLen, pVal, err := encodeLabel("parent_label_", n.Parent)
	if err != nil {
		return nil, err
	}
	lLen, lVal, err := encodeOptLabel("left_child_", n.LeftChild)
	if err != nil {
		return nil, err
	}
	rLen, rVal, err := encodeOptLabel("right_child_", n.RightChild)
	if err != nil {
		return nil, err
	}
	return append(row, last, least, pLen, pVal, int16(n.NodeType),
		lLen, lVal, rLen, rVal, append([]byte(nil), n.Hash[:]...)), nil
}

// EncodeNode encodes a node in nodeColumns order.
func EncodeNode(n *types.TreeNodeWithPreviousValue) (row Row, err error) {
	row = make(Row, 0, len(nodeColumns))
	length, value, err := encodeLabel("label_", n.Label)
	if err != nil {
		return nil, err
	}
	row = append(row, length, value)
	if row, err = encodeTreeNode(row, &n.Latest); err != nil {
		return nil, err
	}
	if n.Previous == nil {
		for i := 0; i < 10; i++ {
			row = append(row, nil)
		}
		return row, nil
	}
	return encodeTreeNode(row, n.Previous)
}

// DecodeNode decodes a row produced by selecting nodeColumns.
func DecodeNode(row Row) (*types.TreeNodeWithPreviousValue, error) {
	d := decoder{op: "decode tree node", row: row}
	if !d.expect(len(nodeColumns)) {
		return nil, d.err
	}
	n := &types.TreeNodeWithPreviousValue{
		Label: d.label(0, 1, "label"),
	}
	d.treeNode(2, "", &n.Latest)

	present := 0
	for _, i := range []int{12, 13, 14, 15, 16, 21} {
		if row[i] != nil {
			present++
		}
	}
	switch present {
	case 0:
		if row[17] != nil || row[18] != nil || row[19] != nil || row[20] != nil {
			d.fail("previous children set without previous value")
		}
	case 6:
		n.Previous = &types.TreeNode{}
		d.treeNode(12, "p_", n.Previous)
	default:
		d.fail("partial previous value (%d of 6 columns)", present)
	}
	if d.err != nil {
		return nil, d.err
	}
	return n, nil
}

// EncodeValueState encodes a value state in valueColumns order.
func EncodeValueState(v *types.ValueState) (Row, error) {
	epoch, err := toInt64("epoch", v.Epoch)
	if err != nil {
		return nil, err
	}
	version, err := toInt64("version", v.Version)
	if err != nil {
		return nil, err
	}
	length, value, err := encodeLabel("node_label_", v.Label)
	if err != nil {
		return nil, err
	}
	return Row{nonNil(v.RawLabel), epoch, version, value, length, nonNil(v.Value)}, nil
}

// DecodeValueState decodes a row produced by selecting valueColumns.
func DecodeValueState(row Row) (*types.ValueState, error) {
	d := decoder{op: "decode value state", row: row}
	if !d.expect(len(valueColumns)) {
		return nil, d.err
	}
	v := &types.ValueState{
		RawLabel: d.bytes(0, "raw_label"),
		Epoch:    d.uint64(1, "epoch"),
		Version:  d.uint64(2, "version"),
		Label:    d.label(4, 3, "node_label"),
		Value:    d.bytes(5, "data"),
	}
	if d.err != nil {
		return nil, d.err
	}
	return v, nil
}

// EncodeVrfKey encodes a VRF key record in vrfKeyColumns order.
func EncodeVrfKey(r *types.VrfKeyRecord) Row {
	var encSymKey interface{}
	if r.EncSymKey != nil {
		encSymKey = r.EncSymKey
	}
	return Row{nonNil(r.RootKeyHash), int16(r.RootKeyType), encSymKey, nonNil(r.SymEncVrfKey), nonNil(r.Nonce)}
}

// DecodeVrfKey decodes a row produced by selecting vrfKeyColumns.
func DecodeVrfKey(row Row) (*types.VrfKeyRecord, error) {
	d := decoder{op: "decode vrf key", row: row}
	if !d.expect(len(vrfKeyColumns)) {
		return nil, d.err
	}
	r := &types.VrfKeyRecord{
		RootKeyHash:  d.bytes(0, "root_key_hash"),
		RootKeyType:  types.RootKeyType(d.int64(1, "root_key_type")),
		SymEncVrfKey: d.bytes(3, "sym_enc_vrf_key"),
		Nonce:        d.bytes(4, "nonce"),
	}
	if row[2] != nil {
		r.EncSymKey = d.bytes(2, "enc_sym_key")
	}
	if r.RootKeyType != types.SymmetricRootKey && r.RootKeyType != types.RSARootKey {
		d.fail("unknown root key type %d", r.RootKeyType)
	}
	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}

// EncodeQueueItem encodes a queue item in queueColumns order.
func EncodeQueueItem(item *types.QueueItem) Row {
	return Row{append([]byte(nil), item.ID[:]...), nonNil(item.RawLabel), nonNil(item.RawValue)}
}

// DecodeQueueItem decodes a row produced by selecting queueColumns.
func DecodeQueueItem(row Row) (*types.QueueItem, error) {
	d := decoder{op: "decode queue item", row: row}
	if !d.expect(len(queueColumns)) {
		return nil, d.err
	}
	item := &types.QueueItem{
		RawLabel: d.bytes(1, "raw_label"),
		RawValue: d.bytes(2, "raw_value"),
	}
	if id := d.bytes(0, "id"); d.err == nil {
		var err error
		if item.ID, err = uuid.FromBytes(id); err != nil {
			d.fail("id: %v", err)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return item, nil
}

// nonNil keeps empty byte strings distinct from SQL NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// decoder reads typed columns out of a driver row, the first failure sticks.
type decoder struct {
	op  string
	row Row
	err error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = storage.Corrupt(d.op, format, args...)
	}
}

func (d *decoder) expect(n int) bool {
	if len(d.row) != n {
		d.fail("want %d columns, got %d", n, len(d.row))
		return false
	}
	return true
}

func (d *decoder) int64(i int, col string) int64 {
	switch v := d.row[i].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case int:
		return int64(v)
	case nil:
		d.fail("%s: unexpected null", col)
	default:
		d.fail("%s: unexpected type %T", col, v)
	}
	return 0
}

func (d *decoder) uint64(i int, col string) uint64 {
	v := d.int64(i, col)
	if v < 0 {
		d.fail("%s: negative value %d", col, v)
		return 0
	}
	return uint64(v)
}

func (d *decoder) uint32(i int, col string) uint32 {
	v := d.int64(i, col)
	if v < 0 || v > math.MaxUint32 {
		d.fail("%s: value %d out of range", col, v)
		return 0
	}
	return uint32(v)
}

func (d *decoder) bytes(i int, col string) []byte {
	switch v := d.row[i].(type) {
	case []byte:
		return append([]byte{}, v...)
	case string:
		return []byte(v)
	case nil:
		// some drivers report a zero length blob as NULL; NOT NULL is enforced by the schema
		return []byte{}
	default:
		d.fail("%s: unexpected type %T", col, v)
	}
	return nil
}

func (d *decoder) fixed32(i int, col string) (out [32]byte) {
	b := d.bytes(i, col)
	if d.err != nil {
		return
	}
	if len(b) != len(out) {
		d.fail("%s: want %d bytes, got %d", col, len(out), len(b))
		return
	}
	copy(out[:], b)
	return
}

func (d *decoder) label(lenIdx, valIdx int, col string) types.NodeLabel {
	return types.NodeLabel{
		Length: d.uint32(lenIdx, col+"_len"),
		Value:  d.fixed32(valIdx, col+"_val"),
	}
}

func (d *decoder) optLabel(lenIdx, valIdx int, col string) *types.NodeLabel {
	if d.row[lenIdx] == nil && d.row[valIdx] == nil {
		return nil
	}
	if d.row[lenIdx] == nil || d.row[valIdx] == nil {
		d.fail("%s: partial label", col)
		return nil
	}
	l := d.label(lenIdx, valIdx, col)
	return &l
}

// treeNode reads the ten columns of one node value starting at column i.
func (d *decoder) treeNode(i int, prefix string, n *types.TreeNode) {
	n.LastEpoch = d.uint64(i, prefix+"last_epoch")
	n.MinDescendantEpoch = d.uint64(i+1, prefix+"least_descendant_ep")
	n.Parent = d.label(i+2, i+3, prefix+"parent_label")
	nodeType := d.int64(i+4, prefix+"node_type")
	if nodeType < 0 || nodeType > math.MaxUint8 {
		d.fail("%snode_type: value %d out of range", prefix, nodeType)
	}
	n.NodeType = uint8(nodeType)
	n.LeftChild = d.optLabel(i+5, i+6, prefix+"left_child")
	n.RightChild = d.optLabel(i+7, i+8, prefix+"right_child")
	n.Hash = d.fixed32(i+9, prefix+"hash")
}

// Package model defines the data value tree, the operation algebra, and the
// persisted entities (model metadata, operation log entries, snapshots)
// that the rest of the coordinator operates on.
package model

import (
	"time"

	"github.com/rectcircle/convergence-server/internal/vid"
)

// Value is the tagged union of every node kind a model's tree can contain.
// Every concrete type also satisfies fmt.Stringer-free equality via
// reflect.DeepEqual, which the OT property tests rely on.
type Value interface {
	// VID returns the value id of this node.
	VID() vid.ID
	// Kind returns the node's discriminant.
	Kind() ValueKind
	// Clone returns a deep copy of this node, including all descendants.
	Clone() Value
}

// ValueKind discriminates the members of the Value union.
type ValueKind uint8

const (
	KindObject ValueKind = iota
	KindArray
	KindString
	KindDouble
	KindBoolean
	KindDate
	KindNull
)

// ObjectValue is a JSON-object-shaped node: an unordered set of named
// children.
type ObjectValue struct {
	Vid      vid.ID
	Children map[string]Value
}

func NewObjectValue(id vid.ID) *ObjectValue {
	return &ObjectValue{Vid: id, Children: map[string]Value{}}
}

func (v *ObjectValue) VID() vid.ID    { return v.Vid }
func (v *ObjectValue) Kind() ValueKind { return KindObject }
func (v *ObjectValue) Clone() Value {
	children := make(map[string]Value, len(v.Children))
	for k, c := range v.Children {
		children[k] = c.Clone()
	}
	return &ObjectValue{Vid: v.Vid, Children: children}
}

// ArrayValue is a JSON-array-shaped node: an ordered list of children.
type ArrayValue struct {
	Vid      vid.ID
	Children []Value
}

func NewArrayValue(id vid.ID) *ArrayValue {
	return &ArrayValue{Vid: id, Children: nil}
}

func (v *ArrayValue) VID() vid.ID    { return v.Vid }
func (v *ArrayValue) Kind() ValueKind { return KindArray }
func (v *ArrayValue) Clone() Value {
	children := make([]Value, len(v.Children))
	for i, c := range v.Children {
		children[i] = c.Clone()
	}
	return &ArrayValue{Vid: v.Vid, Children: children}
}

// StringValue is a leaf string node.
type StringValue struct {
	Vid   vid.ID
	Value string
}

func (v *StringValue) VID() vid.ID    { return v.Vid }
func (v *StringValue) Kind() ValueKind { return KindString }
func (v *StringValue) Clone() Value   { return &StringValue{Vid: v.Vid, Value: v.Value} }

// DoubleValue is a leaf IEEE-754 double node.
type DoubleValue struct {
	Vid   vid.ID
	Value float64
}

func (v *DoubleValue) VID() vid.ID    { return v.Vid }
func (v *DoubleValue) Kind() ValueKind { return KindDouble }
func (v *DoubleValue) Clone() Value   { return &DoubleValue{Vid: v.Vid, Value: v.Value} }

// BooleanValue is a leaf boolean node.
type BooleanValue struct {
	Vid   vid.ID
	Value bool
}

func (v *BooleanValue) VID() vid.ID    { return v.Vid }
func (v *BooleanValue) Kind() ValueKind { return KindBoolean }
func (v *BooleanValue) Clone() Value   { return &BooleanValue{Vid: v.Vid, Value: v.Value} }

// DateValue is a leaf instant node.
type DateValue struct {
	Vid   vid.ID
	Value time.Time
}

func (v *DateValue) VID() vid.ID    { return v.Vid }
func (v *DateValue) Kind() ValueKind { return KindDate }
func (v *DateValue) Clone() Value   { return &DateValue{Vid: v.Vid, Value: v.Value} }

// NullValue is a leaf null node.
type NullValue struct {
	Vid vid.ID
}

func (v *NullValue) VID() vid.ID    { return v.Vid }
func (v *NullValue) Kind() ValueKind { return KindNull }
func (v *NullValue) Clone() Value   { return &NullValue{Vid: v.Vid} }

// Package tree implements the Data Value Tree: the live, mutable
// in-memory representation of a model's document (spec §4.1). It is
// owned exclusively by one Realtime Model Coordinator; there is no
// internal locking.
package tree

import (
	"fmt"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/vid"
)

// ApplyError is returned when an operation cannot be applied to the
// current tree state (missing vid, out-of-bounds index, kind mismatch).
// Per spec §4.1 and §7, every ApplyError is fatal: the coordinator that
// receives one must force-close the model.
type ApplyError struct {
	Op      model.OpKind
	Target  vid.ID
	Message string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("tree: apply %s on %s: %s", e.Op, e.Target, e.Message)
}

func newApplyError(op model.DiscreteOp, format string, args ...interface{}) *ApplyError {
	return &ApplyError{Op: op.Kind(), Target: op.Target(), Message: fmt.Sprintf(format, args...)}
}

// Tree is the live document tree. The index map gives O(1) vid lookup
// without parent pointers, per the design note that operations never need
// to walk upward (spec §9).
type Tree struct {
	root  *model.ObjectValue
	index map[vid.ID]model.Value
}

// New builds a Tree over an existing root, indexing every descendant vid.
// Used both for a freshly cold-started model and for a model restored from
// a snapshot plus replayed operations.
func New(root *model.ObjectValue) *Tree {
	t := &Tree{root: root, index: make(map[vid.ID]model.Value)}
	indexSubtree(t.index, root)
	return t
}

// Root returns the live root node. Callers must not mutate it directly;
// use Apply.
func (t *Tree) Root() *model.ObjectValue { return t.root }

// Get returns the live node for a vid, if present.
func (t *Tree) Get(id vid.ID) (model.Value, bool) {
	v, ok := t.index[id]
	return v, ok
}

// Materialize returns a deep copy of the root, suitable for a snapshot or
// for handing to a newly-opening participant.
func (t *Tree) Materialize() *model.ObjectValue {
	return t.root.Clone().(*model.ObjectValue)
}

func indexSubtree(index map[vid.ID]model.Value, v model.Value) {
	index[v.VID()] = v
	switch t := v.(type) {
	case *model.ObjectValue:
		for _, c := range t.Children {
			indexSubtree(index, c)
		}
	case *model.ArrayValue:
		for _, c := range t.Children {
			indexSubtree(index, c)
		}
	}
}

func deindexSubtree(index map[vid.ID]model.Value, v model.Value) {
	delete(index, v.VID())
	switch t := v.(type) {
	case *model.ObjectValue:
		for _, c := range t.Children {
			deindexSubtree(index, c)
		}
	case *model.ArrayValue:
		for _, c := range t.Children {
			deindexSubtree(index, c)
		}
	}
}

// Apply mutates the tree in place for op and returns the AppliedOp
// (op plus whatever inverse data the tree had to capture along the way).
// A no-op op mutates nothing and returns immediately, preserving version
// accounting (spec §4.2).
func (t *Tree) Apply(op model.DiscreteOp) (model.AppliedOp, error) {
	if op.IsNoOp() {
		return model.AppliedOp{Op: op}, nil
	}
	switch o := op.(type) {
	case model.StringInsertOp:
		return t.applyStringInsert(o)
	case model.StringRemoveOp:
		return t.applyStringRemove(o)
	case model.StringSetOp:
		return t.applyStringSet(o)
	case model.ArrayInsertOp:
		return t.applyArrayInsert(o)
	case model.ArrayRemoveOp:
		return t.applyArrayRemove(o)
	case model.ArrayReplaceOp:
		return t.applyArrayReplace(o)
	case model.ArrayMoveOp:
		return t.applyArrayMove(o)
	case model.ArraySetOp:
		return t.applyArraySet(o)
	case model.ObjectAddPropertyOp:
		return t.applyObjectAddProperty(o)
	case model.ObjectSetPropertyOp:
		return t.applyObjectSetProperty(o)
	case model.ObjectRemovePropertyOp:
		return t.applyObjectRemoveProperty(o)
	case model.ObjectSetOp:
		return t.applyObjectSet(o)
	case model.NumberAddOp:
		return t.applyNumberAdd(o)
	case model.NumberSetOp:
		return t.applyNumberSet(o)
	case model.BooleanSetOp:
		return t.applyBooleanSet(o)
	case model.DateSetOp:
		return t.applyDateSet(o)
	default:
		return model.AppliedOp{}, newApplyError(op, "unknown operation type %T", op)
	}
}

// ApplyCompound applies every sub-operation of a compound op in sequence,
// returning the applied sub-operations in order. If any sub-operation
// fails, the caller must treat the whole compound as fatal; the tree may
// be left with a prefix of the compound applied (spec §4.5 step 3 already
// requires force-close on any apply error, so no rollback is attempted).
func (t *Tree) ApplyCompound(ops []model.DiscreteOp) ([]model.AppliedOp, error) {
	applied := make([]model.AppliedOp, 0, len(ops))
	for _, op := range ops {
		a, err := t.Apply(op)
		if err != nil {
			return applied, err
		}
		applied = append(applied, a)
	}
	return applied, nil
}

func (t *Tree) getString(op model.DiscreteOp) (*model.StringValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	s, ok := v.(*model.StringValue)
	if !ok {
		return nil, newApplyError(op, "target is not a string (got %T)", v)
	}
	return s, nil
}

func (t *Tree) getArray(op model.DiscreteOp) (*model.ArrayValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	a, ok := v.(*model.ArrayValue)
	if !ok {
		return nil, newApplyError(op, "target is not an array (got %T)", v)
	}
	return a, nil
}

func (t *Tree) getObject(op model.DiscreteOp) (*model.ObjectValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	obj, ok := v.(*model.ObjectValue)
	if !ok {
		return nil, newApplyError(op, "target is not an object (got %T)", v)
	}
	return obj, nil
}

func (t *Tree) getDouble(op model.DiscreteOp) (*model.DoubleValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	num, ok := v.(*model.DoubleValue)
	if !ok {
		return nil, newApplyError(op, "target is not a double (got %T)", v)
	}
	return num, nil
}

func (t *Tree) getBoolean(op model.DiscreteOp) (*model.BooleanValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	b, ok := v.(*model.BooleanValue)
	if !ok {
		return nil, newApplyError(op, "target is not a boolean (got %T)", v)
	}
	return b, nil
}

func (t *Tree) getDate(op model.DiscreteOp) (*model.DateValue, error) {
	v, ok := t.index[op.Target()]
	if !ok {
		return nil, newApplyError(op, "vid not found")
	}
	d, ok := v.(*model.DateValue)
	if !ok {
		return nil, newApplyError(op, "target is not a date (got %T)", v)
	}
	return d, nil
}

func (t *Tree) applyStringInsert(o model.StringInsertOp) (model.AppliedOp, error) {
	s, err := t.getString(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	if o.Index < 0 || o.Index > len(s.Value) {
		return model.AppliedOp{}, newApplyError(o, "index %d out of bounds for length %d", o.Index, len(s.Value))
	}
	s.Value = s.Value[:o.Index] + o.Value + s.Value[o.Index:]
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyStringRemove(o model.StringRemoveOp) (model.AppliedOp, error) {
	s, err := t.getString(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	end := o.Index + len(o.Value)
	if o.Index < 0 || end > len(s.Value) {
		return model.AppliedOp{}, newApplyError(o, "range [%d,%d) out of bounds for length %d", o.Index, end, len(s.Value))
	}
	if s.Value[o.Index:end] != o.Value {
		return model.AppliedOp{}, newApplyError(o, "removed text %q does not match tree content %q", o.Value, s.Value[o.Index:end])
	}
	s.Value = s.Value[:o.Index] + s.Value[end:]
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyStringSet(o model.StringSetOp) (model.AppliedOp, error) {
	s, err := t.getString(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := &model.StringValue{Vid: s.Vid, Value: s.Value}
	s.Value = o.Value
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

func (t *Tree) applyArrayInsert(o model.ArrayInsertOp) (model.AppliedOp, error) {
	a, err := t.getArray(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	if o.Index < 0 || o.Index > len(a.Children) {
		return model.AppliedOp{}, newApplyError(o, "index %d out of bounds for length %d", o.Index, len(a.Children))
	}
	a.Children = append(a.Children, nil)
	copy(a.Children[o.Index+1:], a.Children[o.Index:])
	a.Children[o.Index] = o.Value
	indexSubtree(t.index, o.Value)
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyArrayRemove(o model.ArrayRemoveOp) (model.AppliedOp, error) {
	a, err := t.getArray(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	if o.Index < 0 || o.Index >= len(a.Children) {
		return model.AppliedOp{}, newApplyError(o, "index %d out of bounds for length %d", o.Index, len(a.Children))
	}
	removed := a.Children[o.Index]
	a.Children = append(a.Children[:o.Index], a.Children[o.Index+1:]...)
	deindexSubtree(t.index, removed)
	return model.AppliedOp{Op: o, Removed: removed}, nil
}

func (t *Tree) applyArrayReplace(o model.ArrayReplaceOp) (model.AppliedOp, error) {
	a, err := t.getArray(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	if o.Index < 0 || o.Index >= len(a.Children) {
		return model.AppliedOp{}, newApplyError(o, "index %d out of bounds for length %d", o.Index, len(a.Children))
	}
	prev := a.Children[o.Index]
	deindexSubtree(t.index, prev)
	a.Children[o.Index] = o.Value
	indexSubtree(t.index, o.Value)
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

func (t *Tree) applyArrayMove(o model.ArrayMoveOp) (model.AppliedOp, error) {
	a, err := t.getArray(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	n := len(a.Children)
	if o.FromIndex < 0 || o.FromIndex >= n || o.ToIndex < 0 || o.ToIndex >= n {
		return model.AppliedOp{}, newApplyError(o, "move [%d->%d] out of bounds for length %d", o.FromIndex, o.ToIndex, n)
	}
	v := a.Children[o.FromIndex]
	a.Children = append(a.Children[:o.FromIndex], a.Children[o.FromIndex+1:]...)
	a.Children = append(a.Children, nil)
	copy(a.Children[o.ToIndex+1:], a.Children[o.ToIndex:])
	a.Children[o.ToIndex] = v
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyArraySet(o model.ArraySetOp) (model.AppliedOp, error) {
	a, err := t.getArray(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := a.Children
	for _, c := range prev {
		deindexSubtree(t.index, c)
	}
	a.Children = o.Values
	for _, c := range a.Children {
		indexSubtree(t.index, c)
	}
	return model.AppliedOp{Op: o, PreviousElements: prev}, nil
}

func (t *Tree) applyObjectAddProperty(o model.ObjectAddPropertyOp) (model.AppliedOp, error) {
	obj, err := t.getObject(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	if _, exists := obj.Children[o.Property]; exists {
		return model.AppliedOp{}, newApplyError(o, "property %q already exists", o.Property)
	}
	obj.Children[o.Property] = o.Value
	indexSubtree(t.index, o.Value)
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyObjectSetProperty(o model.ObjectSetPropertyOp) (model.AppliedOp, error) {
	obj, err := t.getObject(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev, hadPrev := obj.Children[o.Property]
	if hadPrev {
		deindexSubtree(t.index, prev)
	}
	obj.Children[o.Property] = o.Value
	indexSubtree(t.index, o.Value)
	applied := model.AppliedOp{Op: o}
	if hadPrev {
		applied.Previous = prev
	}
	return applied, nil
}

func (t *Tree) applyObjectRemoveProperty(o model.ObjectRemovePropertyOp) (model.AppliedOp, error) {
	obj, err := t.getObject(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev, ok := obj.Children[o.Property]
	if !ok {
		return model.AppliedOp{}, newApplyError(o, "property %q does not exist", o.Property)
	}
	delete(obj.Children, o.Property)
	deindexSubtree(t.index, prev)
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

func (t *Tree) applyObjectSet(o model.ObjectSetOp) (model.AppliedOp, error) {
	obj, err := t.getObject(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := obj.Children
	for _, c := range prev {
		deindexSubtree(t.index, c)
	}
	obj.Children = o.Values
	for _, c := range obj.Children {
		indexSubtree(t.index, c)
	}
	return model.AppliedOp{Op: o, PreviousProperties: prev}, nil
}

func (t *Tree) applyNumberAdd(o model.NumberAddOp) (model.AppliedOp, error) {
	num, err := t.getDouble(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	// Standard IEEE-754 addition (spec §4.1); overflow to +/-Inf or NaN is
	// propagated rather than clamped or treated as fatal (SPEC_FULL.md §9).
	num.Value = num.Value + o.Value
	return model.AppliedOp{Op: o}, nil
}

func (t *Tree) applyNumberSet(o model.NumberSetOp) (model.AppliedOp, error) {
	num, err := t.getDouble(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := &model.DoubleValue{Vid: num.Vid, Value: num.Value}
	num.Value = o.Value
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

func (t *Tree) applyBooleanSet(o model.BooleanSetOp) (model.AppliedOp, error) {
	b, err := t.getBoolean(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := &model.BooleanValue{Vid: b.Vid, Value: b.Value}
	b.Value = o.Value
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

func (t *Tree) applyDateSet(o model.DateSetOp) (model.AppliedOp, error) {
	d, err := t.getDate(o)
	if err != nil {
		return model.AppliedOp{}, err
	}
	prev := &model.DateValue{Vid: d.Vid, Value: d.Value}
	d.Value = o.Value
	return model.AppliedOp{Op: o, Previous: prev}, nil
}

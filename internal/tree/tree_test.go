package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rectcircle/convergence-server/internal/model"
)

func newTestTree() *Tree {
	root := model.NewObjectValue("s0")
	root.Children["s"] = &model.StringValue{Vid: "s1", Value: "AB"}
	arr := model.NewArrayValue("a1")
	arr.Children = []model.Value{
		&model.DoubleValue{Vid: "n1", Value: 1},
		&model.DoubleValue{Vid: "n2", Value: 2},
		&model.DoubleValue{Vid: "n3", Value: 3},
	}
	root.Children["arr"] = arr
	root.Children["num"] = &model.DoubleValue{Vid: "n0", Value: 10}
	return New(root)
}

func TestApplyStringInsert(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.StringInsertOp{Vid: "s1", Index: 1, Value: "X"})
	require.NoError(t, err)
	v, ok := tr.Get("s1")
	require.True(t, ok)
	require.Equal(t, "AXB", v.(*model.StringValue).Value)
}

func TestApplyStringInsertOutOfBounds(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.StringInsertOp{Vid: "s1", Index: 99, Value: "X"})
	require.Error(t, err)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
}

func TestApplyStringRemove(t *testing.T) {
	tr := newTestTree()
	applied, err := tr.Apply(model.StringRemoveOp{Vid: "s1", Index: 0, Value: "A"})
	require.NoError(t, err)
	require.Equal(t, model.OpStringRemove, applied.Op.Kind())
	v, _ := tr.Get("s1")
	require.Equal(t, "B", v.(*model.StringValue).Value)
}

func TestApplyStringRemoveMismatch(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.StringRemoveOp{Vid: "s1", Index: 0, Value: "Z"})
	require.Error(t, err)
}

func TestApplyArrayInsertAndRemove(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.ArrayInsertOp{Vid: "a1", Index: 1, Value: &model.DoubleValue{Vid: "n9", Value: 99}})
	require.NoError(t, err)
	v, _ := tr.Get("a1")
	arr := v.(*model.ArrayValue)
	require.Len(t, arr.Children, 4)
	require.Equal(t, float64(99), arr.Children[1].(*model.DoubleValue).Value)

	// The new vid must be indexed.
	_, ok := tr.Get("n9")
	require.True(t, ok)

	applied, err := tr.Apply(model.ArrayRemoveOp{Vid: "a1", Index: 1})
	require.NoError(t, err)
	require.Equal(t, "n9", string(applied.Removed.VID()))
	_, ok = tr.Get("n9")
	require.False(t, ok, "removed subtree must be de-indexed")
}

func TestApplyArrayRemoveOutOfBounds(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.ArrayRemoveOp{Vid: "a1", Index: 10})
	require.Error(t, err)
}

func TestApplyArrayMove(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.ArrayMoveOp{Vid: "a1", FromIndex: 0, ToIndex: 2})
	require.NoError(t, err)
	v, _ := tr.Get("a1")
	arr := v.(*model.ArrayValue)
	require.Equal(t, "n2", string(arr.Children[0].VID()))
	require.Equal(t, "n3", string(arr.Children[1].VID()))
	require.Equal(t, "n1", string(arr.Children[2].VID()))
}

func TestApplyObjectAddSetRemoveProperty(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.ObjectAddPropertyOp{Vid: "s0", Property: "newProp", Value: &model.BooleanValue{Vid: "b1", Value: true}})
	require.NoError(t, err)

	_, err = tr.Apply(model.ObjectAddPropertyOp{Vid: "s0", Property: "newProp", Value: &model.NullValue{Vid: "nul1"}})
	require.Error(t, err, "adding an existing property must fail")

	applied, err := tr.Apply(model.ObjectSetPropertyOp{Vid: "s0", Property: "newProp", Value: &model.NullValue{Vid: "nul2"}})
	require.NoError(t, err)
	require.Equal(t, "b1", string(applied.Previous.VID()))
	_, ok := tr.Get("b1")
	require.False(t, ok)

	applied, err = tr.Apply(model.ObjectRemovePropertyOp{Vid: "s0", Property: "newProp"})
	require.NoError(t, err)
	require.Equal(t, "nul2", string(applied.Previous.VID()))
}

func TestApplyObjectSetWholesale(t *testing.T) {
	tr := newTestTree()
	newValues := map[string]model.Value{"only": &model.StringValue{Vid: "sOnly", Value: "hi"}}
	applied, err := tr.Apply(model.ObjectSetOp{Vid: "s0", Values: newValues})
	require.NoError(t, err)
	require.Len(t, applied.PreviousProperties, 3)
	v, _ := tr.Get("s0")
	require.Len(t, v.(*model.ObjectValue).Children, 1)
	_, ok := tr.Get("s1")
	require.False(t, ok, "old property subtree must be de-indexed")
}

func TestApplyNumberAddAndSet(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.NumberAddOp{Vid: "n0", Value: 5})
	require.NoError(t, err)
	v, _ := tr.Get("n0")
	require.Equal(t, float64(15), v.(*model.DoubleValue).Value)

	applied, err := tr.Apply(model.NumberSetOp{Vid: "n0", Value: 42})
	require.NoError(t, err)
	require.Equal(t, float64(15), applied.Previous.(*model.DoubleValue).Value)
}

func TestApplyKindMismatch(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.NumberAddOp{Vid: "s1", Value: 1})
	require.Error(t, err)
}

func TestApplyVidNotFound(t *testing.T) {
	tr := newTestTree()
	_, err := tr.Apply(model.StringSetOp{Vid: "does-not-exist", Value: "x"})
	require.Error(t, err)
}

func TestApplyNoOpIsSkipped(t *testing.T) {
	tr := newTestTree()
	before := tr.Materialize()
	applied, err := tr.Apply(model.StringInsertOp{Vid: "s1", NoOp: true, Index: 0, Value: "zzz"})
	require.NoError(t, err)
	require.True(t, applied.Op.IsNoOp())
	after := tr.Materialize()
	require.Equal(t, before, after)
}

func TestMaterializeIsADeepCopy(t *testing.T) {
	tr := newTestTree()
	snap := tr.Materialize()
	_, err := tr.Apply(model.StringSetOp{Vid: "s1", Value: "changed"})
	require.NoError(t, err)
	require.Equal(t, "AB", snap.Children["s"].(*model.StringValue).Value, "materialized snapshot must not alias live tree")
}

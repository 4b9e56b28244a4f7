package ot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/tree"
)

// assertConverge is the TP1 property check from spec §8: applying
// (s then c') and (c then s') to independent copies of the same base tree
// must produce identical materialized states.
func assertConverge(t *testing.T, base *model.ObjectValue, s, c model.DiscreteOp) {
	t.Helper()
	sOut, cOut := Transform(s, c)

	leftTree := tree.New(base.Clone().(*model.ObjectValue))
	applyOperation(t, leftTree, s)
	applyOperation(t, leftTree, cOut)

	rightTree := tree.New(base.Clone().(*model.ObjectValue))
	applyOperation(t, rightTree, c)
	applyOperation(t, rightTree, sOut)

	require.Equal(t, leftTree.Materialize(), rightTree.Materialize())
}

func applyOperation(t *testing.T, tr *tree.Tree, op model.Operation) {
	t.Helper()
	switch o := op.(type) {
	case model.CompoundOp:
		_, err := tr.ApplyCompound(o.Ops)
		require.NoError(t, err)
	case model.DiscreteOp:
		_, err := tr.Apply(o)
		require.NoError(t, err)
	default:
		t.Fatalf("unknown operation type %T", op)
	}
}

func baseTree() *model.ObjectValue {
	root := model.NewObjectValue("s0")
	root.Children["s"] = &model.StringValue{Vid: "s1", Value: "ABCDE"}
	arr := model.NewArrayValue("a1")
	arr.Children = []model.Value{
		&model.DoubleValue{Vid: "n1", Value: 1},
		&model.DoubleValue{Vid: "n2", Value: 2},
		&model.DoubleValue{Vid: "n3", Value: 3},
	}
	root.Children["arr"] = arr
	root.Children["num"] = &model.DoubleValue{Vid: "n0", Value: 10}
	root.Children["flag"] = &model.BooleanValue{Vid: "b0", Value: false}
	return root
}

func TestTP1StringInsertInsert(t *testing.T) {
	base := baseTree()
	s := model.StringInsertOp{Vid: "s1", Index: 2, Value: "XY"}
	c := model.StringInsertOp{Vid: "s1", Index: 2, Value: "Z"}
	assertConverge(t, base, s, c)
}

func TestTP1StringInsertInsideRemove(t *testing.T) {
	base := baseTree()
	s := model.StringInsertOp{Vid: "s1", Index: 2, Value: "XY"}
	c := model.StringRemoveOp{Vid: "s1", Index: 0, Value: "ABCDE"}
	assertConverge(t, base, s, c)
}

func TestTP1StringRemoveRemoveOverlap(t *testing.T) {
	base := baseTree()
	s := model.StringRemoveOp{Vid: "s1", Index: 0, Value: "ABC"}
	c := model.StringRemoveOp{Vid: "s1", Index: 1, Value: "BCD"}
	assertConverge(t, base, s, c)
}

func TestTP1StringSetVsInsert(t *testing.T) {
	base := baseTree()
	s := model.StringSetOp{Vid: "s1", Value: "server-wins"}
	c := model.StringInsertOp{Vid: "s1", Index: 1, Value: "Q"}
	assertConverge(t, base, s, c)
}

func TestTP1ArrayInsertRemove(t *testing.T) {
	base := baseTree()
	s := model.ArrayInsertOp{Vid: "a1", Index: 1, Value: &model.DoubleValue{Vid: "n9", Value: 99}}
	c := model.ArrayRemoveOp{Vid: "a1", Index: 2}
	assertConverge(t, base, s, c)
}

func TestTP1ArrayMoveRemove(t *testing.T) {
	base := baseTree()
	s := model.ArrayMoveOp{Vid: "a1", FromIndex: 0, ToIndex: 2}
	c := model.ArrayRemoveOp{Vid: "a1", Index: 1}
	assertConverge(t, base, s, c)
}

func TestTP1ArrayMoveMoveSameElement(t *testing.T) {
	base := baseTree()
	s := model.ArrayMoveOp{Vid: "a1", FromIndex: 0, ToIndex: 2}
	c := model.ArrayMoveOp{Vid: "a1", FromIndex: 0, ToIndex: 1}
	assertConverge(t, base, s, c)
}

func TestTP1ArrayRemoveSameIndex(t *testing.T) {
	base := baseTree()
	_ = base
	s := model.ArrayRemoveOp{Vid: "a1", Index: 1}
	c := model.ArrayRemoveOp{Vid: "a1", Index: 1}
	sOut, cOut := Transform(s, c)
	require.Equal(t, s, sOut)
	cDiscrete := cOut.(model.DiscreteOp)
	require.True(t, cDiscrete.IsNoOp())
}

func TestTP1ObjectSetPropertySamePropertyConflict(t *testing.T) {
	base := baseTree()
	s := model.ObjectSetPropertyOp{Vid: "s0", Property: "num", Value: &model.DoubleValue{Vid: "nA", Value: 100}}
	c := model.ObjectSetPropertyOp{Vid: "s0", Property: "num", Value: &model.DoubleValue{Vid: "nB", Value: 200}}
	assertConverge(t, base, s, c)
}

func TestTP1ObjectAddSamePropertyConflict(t *testing.T) {
	base := baseTree()
	s := model.ObjectAddPropertyOp{Vid: "s0", Property: "newProp", Value: &model.BooleanValue{Vid: "bA", Value: true}}
	c := model.ObjectAddPropertyOp{Vid: "s0", Property: "newProp", Value: &model.BooleanValue{Vid: "bB", Value: false}}
	assertConverge(t, base, s, c)
}

func TestTP1ObjectSetVsRemoveProperty(t *testing.T) {
	base := baseTree()
	s := model.ObjectRemovePropertyOp{Vid: "s0", Property: "flag"}
	c := model.ObjectSetPropertyOp{Vid: "s0", Property: "flag", Value: &model.BooleanValue{Vid: "bC", Value: true}}
	assertConverge(t, base, s, c)
}

func TestTP1ObjectWholesaleSetWins(t *testing.T) {
	base := baseTree()
	s := model.ObjectSetOp{Vid: "s0", Values: map[string]model.Value{"only": &model.StringValue{Vid: "sX", Value: "hi"}}}
	c := model.ObjectSetPropertyOp{Vid: "s0", Property: "flag", Value: &model.BooleanValue{Vid: "bD", Value: true}}
	assertConverge(t, base, s, c)
}

func TestTP1NumberAddAdd(t *testing.T) {
	base := baseTree()
	s := model.NumberAddOp{Vid: "n0", Value: 5}
	c := model.NumberAddOp{Vid: "n0", Value: 7}
	assertConverge(t, base, s, c)
}

func TestTP1NumberSetSetConflict(t *testing.T) {
	base := baseTree()
	s := model.NumberSetOp{Vid: "n0", Value: 1}
	c := model.NumberSetOp{Vid: "n0", Value: 2}
	assertConverge(t, base, s, c)
}

func TestTP1BooleanSetSetConflict(t *testing.T) {
	base := baseTree()
	s := model.BooleanSetOp{Vid: "b0", Value: true}
	c := model.BooleanSetOp{Vid: "b0", Value: false}
	assertConverge(t, base, s, c)
}

func TestTransformDifferentTargetsNoop(t *testing.T) {
	s := model.StringInsertOp{Vid: "s1", Index: 0, Value: "X"}
	c := model.NumberAddOp{Vid: "n0", Value: 1}
	sOut, cOut := Transform(s, c)
	require.Equal(t, s, sOut)
	require.Equal(t, c, cOut)
}

func TestTransformNoOpShortCircuits(t *testing.T) {
	s := model.StringInsertOp{Vid: "s1", NoOp: true, Index: 0, Value: "X"}
	c := model.StringRemoveOp{Vid: "s1", Index: 0, Value: "A"}
	sOut, cOut := Transform(s, c)
	require.Equal(t, s, sOut)
	require.Equal(t, c, cOut)
}

func TestTransformCompoundServerSideFoldsThroughClient(t *testing.T) {
	s := model.CompoundOp{Ops: []model.DiscreteOp{
		model.StringRemoveOp{Vid: "s1", Index: 0, Value: "A"},
		model.StringRemoveOp{Vid: "s1", Index: 0, Value: "B"},
	}}
	c := model.StringInsertOp{Vid: "s1", Index: 0, Value: "Z"}

	base := baseTree()
	sOut, cOut := Transform(s, c)

	leftTree := tree.New(base.Clone().(*model.ObjectValue))
	applyOperation(t, leftTree, s)
	applyOperation(t, leftTree, cOut)

	rightTree := tree.New(base.Clone().(*model.ObjectValue))
	applyOperation(t, rightTree, c)
	applyOperation(t, rightTree, sOut)

	require.Equal(t, leftTree.Materialize(), rightTree.Materialize())
}

func TestEncodeDecodeOpRoundTrip(t *testing.T) {
	ops := []model.DiscreteOp{
		model.StringInsertOp{Vid: "s1", Index: 2, Value: "hello"},
		model.StringRemoveOp{Vid: "s1", Index: 0, Value: "AB"},
		model.ArrayMoveOp{Vid: "a1", FromIndex: 0, ToIndex: 2},
		model.ObjectAddPropertyOp{Vid: "s0", Property: "x", Value: &model.BooleanValue{Vid: "b9", Value: true}},
		model.NumberAddOp{Vid: "n0", Value: 3.5},
	}
	for _, op := range ops {
		data := model.EncodeOp(op)
		decoded, err := model.DecodeOp(data)
		require.NoError(t, err)
		require.Equal(t, op, decoded)
	}
}

func TestEncodeDecodeOperationCompoundRoundTrip(t *testing.T) {
	op := model.CompoundOp{Ops: []model.DiscreteOp{
		model.StringRemoveOp{Vid: "s1", Index: 0, Value: "A"},
		model.StringInsertOp{Vid: "s1", Index: 0, Value: "Z"},
	}}
	data := model.EncodeOperation(op)
	decoded, err := model.DecodeOperation(data)
	require.NoError(t, err)
	require.Equal(t, model.Operation(op), decoded)
}

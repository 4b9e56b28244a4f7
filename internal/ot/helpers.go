// Package ot implements the Operation Transformation function matrix (spec
// §4.2): for every ordered pair of discrete operation kinds that can
// target the same vid, a pure function tf(serverOp, clientOp) ->
// (serverOp', clientOp') such that applying them in either order
// (serverOp then clientOp', or clientOp then serverOp') converges to the
// same state (the TP1 property, spec §8).
//
// By convention every transform function in this package takes the
// server-originated operation first and the client-originated operation
// second, matching the coordinator's use: the server op is one already
// folded into history (spec §4.4), the client op is the one being
// rebased forward.
package ot

import "github.com/rectcircle/convergence-server/internal/model"

// shiftForInsert returns the new value of idx after an insertion of
// length n at position insertAt, given idx originally referred to a
// position in the same sequence. When strictlyAfter is true, an insertion
// exactly at idx does not shift idx (used for the side that "wins" a tie);
// otherwise an insertion at idx does shift it.
func shiftForInsert(idx, insertAt, n int, strictlyAfter bool) int {
	if strictlyAfter {
		if insertAt < idx {
			return idx + n
		}
		return idx
	}
	if insertAt <= idx {
		return idx + n
	}
	return idx
}

// shiftForRemove returns the new value of idx after removing n elements
// starting at removeAt (array semantics: n is always 1 in this codebase's
// array ops, but the helper is written generally).
func shiftForRemove(idx, removeAt, n int) int {
	if removeAt < idx {
		shifted := idx - n
		if shifted < removeAt {
			shifted = removeAt
		}
		return shifted
	}
	return idx
}

// moveTransformIndex applies the well-known single-element-move index
// transform (spec §4.2: "Array move vs anything. Modeled as (remove,
// insert); transform by composition.") to an index that is not itself the
// moved element.
func moveTransformIndex(idx int, from, to int) int {
	switch {
	case idx == from:
		return to
	case from < idx && idx <= to:
		return idx - 1
	case to <= idx && idx < from:
		return idx + 1
	default:
		return idx
	}
}

func cloneDiscrete(op model.DiscreteOp) model.DiscreteOp { return op.Clone() }

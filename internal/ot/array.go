package ot

import "github.com/rectcircle/convergence-server/internal/model"

// transformArrayInsertInsert implements spec §4.2 "Array insert vs
// insert": analogous to the string rule but shifting by one element
// (arrays hold atomic elements, not variable-length text), tie-break
// favoring the server op's position.
func transformArrayInsertInsert(s, c model.ArrayInsertOp) (model.Operation, model.Operation) {
	switch {
	case s.Index < c.Index:
		c.Index++
	case s.Index > c.Index:
		s.Index++
	default:
		c.Index++
	}
	return s, c
}

func transformArrayInsertRemove(ins model.ArrayInsertOp, rem model.ArrayRemoveOp) (model.ArrayInsertOp, model.ArrayRemoveOp) {
	if ins.Index <= rem.Index {
		rem.Index++
	} else {
		ins.Index--
	}
	return ins, rem
}

func transformArrayInsertReplace(ins model.ArrayInsertOp, rep model.ArrayReplaceOp) (model.ArrayInsertOp, model.ArrayReplaceOp) {
	if ins.Index <= rep.Index {
		rep.Index++
	}
	return ins, rep
}

func transformArrayInsertMove(ins model.ArrayInsertOp, mv model.ArrayMoveOp) (model.ArrayInsertOp, model.ArrayMoveOp) {
	newInsIndex := moveTransformIndex(ins.Index, mv.FromIndex, mv.ToIndex)
	mv.FromIndex = shiftForInsert(mv.FromIndex, ins.Index, 1, false)
	mv.ToIndex = shiftForInsert(mv.ToIndex, ins.Index, 1, false)
	ins.Index = newInsIndex
	return ins, mv
}

func transformArrayRemoveRemove(s, c model.ArrayRemoveOp) (model.Operation, model.Operation) {
	switch {
	case s.Index < c.Index:
		c.Index--
		return s, c
	case s.Index > c.Index:
		s.Index--
		return s, c
	default:
		// Same element already removed by s; c becomes a no-op.
		return s, model.ArrayRemoveOp{Vid: c.Vid, NoOp: true, Index: c.Index}
	}
}

func transformArrayRemoveReplace(rem model.ArrayRemoveOp, rep model.ArrayReplaceOp) (model.ArrayRemoveOp, model.Operation) {
	switch {
	case rem.Index < rep.Index:
		rep.Index--
		return rem, rep
	case rem.Index > rep.Index:
		return rem, rep
	default:
		// The element rep wanted to replace was removed by rem; rep
		// becomes a no-op (nothing left to replace).
		return rem, model.ArrayReplaceOp{Vid: rep.Vid, NoOp: true, Index: rep.Index, Value: rep.Value}
	}
}

func transformArrayRemoveMove(rem model.ArrayRemoveOp, mv model.ArrayMoveOp) (model.Operation, model.Operation) {
	if rem.Index == mv.FromIndex {
		// The element being moved was concurrently removed: the move
		// becomes a no-op and the remove proceeds unchanged.
		return rem, model.ArrayMoveOp{Vid: mv.Vid, NoOp: true, FromIndex: mv.FromIndex, ToIndex: mv.ToIndex}
	}
	newRemIndex := moveTransformIndex(rem.Index, mv.FromIndex, mv.ToIndex)
	newFrom := shiftForRemove(mv.FromIndex, rem.Index, 1)
	newTo := shiftForRemove(mv.ToIndex, rem.Index, 1)
	rem.Index = newRemIndex
	mv.FromIndex, mv.ToIndex = newFrom, newTo
	return rem, mv
}

func transformArrayReplaceReplace(s, c model.ArrayReplaceOp) (model.Operation, model.Operation) {
	if s.Index == c.Index {
		return s, c.AsNoOp()
	}
	return s, c
}

func transformArrayReplaceMove(rep model.ArrayReplaceOp, mv model.ArrayMoveOp) (model.ArrayReplaceOp, model.ArrayMoveOp) {
	newRepIndex := moveTransformIndex(rep.Index, mv.FromIndex, mv.ToIndex)
	rep.Index = newRepIndex
	return rep, mv
}

func transformArrayMoveMove(s, c model.ArrayMoveOp) (model.Operation, model.Operation) {
	if s.FromIndex == c.FromIndex {
		// Both sides move the same element; server wins, client becomes
		// a no-op. After the client's move the element sits at its
		// ToIndex, so the server move starts from there.
		s.FromIndex = c.ToIndex
		return s, c.AsNoOp()
	}
	newCFrom := moveTransformIndex(c.FromIndex, s.FromIndex, s.ToIndex)
	newCTo := moveTransformIndex(c.ToIndex, s.FromIndex, s.ToIndex)
	c.FromIndex, c.ToIndex = newCFrom, newCTo
	return s, c
}

// transformArraySetVsAny implements the wholesale-set-wins rule (spec
// §4.2, generalized from ObjectSet to ArraySet for consistency).
func transformArraySetVsAny(set model.ArraySetOp, other model.DiscreteOp, setIsServer bool) (model.Operation, model.Operation) {
	if setIsServer {
		return set, other.AsNoOp()
	}
	return other.AsNoOp(), set
}

func transformArraySetVsSet(s, c model.ArraySetOp) (model.Operation, model.Operation) {
	return s, c.AsNoOp()
}

// TransformArray dispatches every (server, client) discrete-op pair that
// targets an ArrayValue.
func TransformArray(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	switch sv := s.(type) {
	case model.ArrayInsertOp:
		switch cv := c.(type) {
		case model.ArrayInsertOp:
			return transformArrayInsertInsert(sv, cv)
		case model.ArrayRemoveOp:
			a, b := transformArrayInsertRemove(sv, cv)
			return a, b
		case model.ArrayReplaceOp:
			a, b := transformArrayInsertReplace(sv, cv)
			return a, b
		case model.ArrayMoveOp:
			a, b := transformArrayInsertMove(sv, cv)
			return a, b
		case model.ArraySetOp:
			return transformArraySetVsAny(cv, sv, false)
		}
	case model.ArrayRemoveOp:
		switch cv := c.(type) {
		case model.ArrayInsertOp:
			b, a := transformArrayInsertRemove(cv, sv)
			return a, b
		case model.ArrayRemoveOp:
			return transformArrayRemoveRemove(sv, cv)
		case model.ArrayReplaceOp:
			a, b := transformArrayRemoveReplace(sv, cv)
			return a, b
		case model.ArrayMoveOp:
			return transformArrayRemoveMove(sv, cv)
		case model.ArraySetOp:
			return transformArraySetVsAny(cv, sv, false)
		}
	case model.ArrayReplaceOp:
		switch cv := c.(type) {
		case model.ArrayInsertOp:
			b, a := transformArrayInsertReplace(cv, sv)
			return a, b
		case model.ArrayRemoveOp:
			b, a := transformArrayRemoveReplace(cv, sv)
			return a, b
		case model.ArrayReplaceOp:
			return transformArrayReplaceReplace(sv, cv)
		case model.ArrayMoveOp:
			a, b := transformArrayReplaceMove(sv, cv)
			return a, b
		case model.ArraySetOp:
			return transformArraySetVsAny(cv, sv, false)
		}
	case model.ArrayMoveOp:
		switch cv := c.(type) {
		case model.ArrayInsertOp:
			b, a := transformArrayInsertMove(cv, sv)
			return a, b
		case model.ArrayRemoveOp:
			b, a := transformArrayRemoveMove(cv, sv)
			return a, b
		case model.ArrayReplaceOp:
			b, a := transformArrayReplaceMove(cv, sv)
			return a, b
		case model.ArrayMoveOp:
			return transformArrayMoveMove(sv, cv)
		case model.ArraySetOp:
			return transformArraySetVsAny(cv, sv, false)
		}
	case model.ArraySetOp:
		switch cv := c.(type) {
		case model.ArraySetOp:
			return transformArraySetVsSet(sv, cv)
		default:
			return transformArraySetVsAny(sv, cv, true)
		}
	}
	return s, c
}

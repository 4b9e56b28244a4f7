package ot

import "github.com/rectcircle/convergence-server/internal/model"

// transformStringInsertInsert implements spec §4.2 "String insert vs
// insert": equal indices tie-break server-favored (the server op's index
// is held, the client op's index shifts by len(s.Value)).
func transformStringInsertInsert(s, c model.StringInsertOp) (model.Operation, model.Operation) {
	switch {
	case s.Index < c.Index:
		c.Index += len(s.Value)
	case s.Index > c.Index:
		s.Index += len(c.Value)
	default:
		c.Index += len(s.Value)
	}
	return s, c
}

// transformStringInsertRemove implements spec §4.2 "String insert vs
// remove": an insert landing strictly inside the removed range bisects
// the remove into two removes (one for the text before the insertion
// point, one for the text after); an insert at or before the start of the
// range shifts the remove, and an insert at or after its end shifts back by
// the removed length.
func transformStringInsertRemove(ins model.StringInsertOp, rem model.StringRemoveOp) (model.StringInsertOp, model.Operation) {
	remEnd := rem.Index + len(rem.Value)
	switch {
	case ins.Index <= rem.Index:
		return ins, model.StringRemoveOp{Vid: rem.Vid, NoOp: rem.NoOp, Index: rem.Index + len(ins.Value), Value: rem.Value}
	case ins.Index >= remEnd:
		return model.StringInsertOp{Vid: ins.Vid, NoOp: ins.NoOp, Index: ins.Index - len(rem.Value), Value: ins.Value}, rem
	default:
		// Insert lands strictly inside the removed range: bisect. The two
		// removes apply one after the other, so the second starts right
		// after the inserted text once the first has run; on the other side
		// the insert lands where the removed range started.
		split := ins.Index - rem.Index
		first := model.StringRemoveOp{Vid: rem.Vid, NoOp: rem.NoOp, Index: rem.Index, Value: rem.Value[:split]}
		second := model.StringRemoveOp{Vid: rem.Vid, NoOp: rem.NoOp, Index: rem.Index + len(ins.Value), Value: rem.Value[split:]}
		return model.StringInsertOp{Vid: ins.Vid, NoOp: ins.NoOp, Index: rem.Index, Value: ins.Value}, model.CompoundOp{Ops: []model.DiscreteOp{first, second}}
	}
}

// transformStringRemoveRemove implements the remove/remove diamond: when
// the ranges overlap, each side keeps only the portion the other side did
// not already remove.
func transformStringRemoveRemove(s, c model.StringRemoveOp) (model.Operation, model.Operation) {
	sEnd, cEnd := s.Index+len(s.Value), c.Index+len(c.Value)
	switch {
	case sEnd <= c.Index:
		c.Index -= len(s.Value)
		return s, c
	case cEnd <= s.Index:
		s.Index -= len(c.Value)
		return s, c
	}
	// Overlapping ranges: each side's surviving removed text is whatever
	// it targeted minus the intersection with the other's range.
	// Compute surviving substrings directly from the overlap bounds.
	overlapStart := maxInt(s.Index, c.Index)
	overlapEnd := minInt(sEnd, cEnd)
	sSurvivingBefore := s.Value[:maxInt(0, overlapStart-s.Index)]
	sSurvivingAfter := s.Value[minInt(len(s.Value), overlapEnd-s.Index):]
	cSurvivingBefore := c.Value[:maxInt(0, overlapStart-c.Index)]
	cSurvivingAfter := c.Value[minInt(len(c.Value), overlapEnd-c.Index):]

	newIndex := minInt(s.Index, c.Index)
	sVal := sSurvivingBefore + sSurvivingAfter
	cVal := cSurvivingBefore + cSurvivingAfter

	var sOp, cOp model.DiscreteOp
	if sVal == "" {
		sOp = model.StringRemoveOp{Vid: s.Vid, NoOp: true, Index: newIndex, Value: ""}
	} else {
		sOp = model.StringRemoveOp{Vid: s.Vid, NoOp: s.NoOp, Index: newIndex, Value: sVal}
	}
	if cVal == "" {
		cOp = model.StringRemoveOp{Vid: c.Vid, NoOp: true, Index: newIndex, Value: ""}
	} else {
		cOp = model.StringRemoveOp{Vid: c.Vid, NoOp: c.NoOp, Index: newIndex, Value: cVal}
	}
	return sOp, cOp
}

// transformStringSetVsAny implements the "wholesale set wins" rule (spec
// §4.2 states this for ObjectSet; the same rule is applied to StringSet for
// consistency, since it is likewise a wholesale replace).
func transformStringSetVsAny(set model.StringSetOp, other model.DiscreteOp, setIsServer bool) (model.Operation, model.Operation) {
	if setIsServer {
		return set, other.AsNoOp()
	}
	return other.AsNoOp(), set
}

func transformStringSetVsSet(s, c model.StringSetOp) (model.Operation, model.Operation) {
	return s, c.AsNoOp()
}

// TransformString dispatches every (server, client) discrete-op pair that
// targets a StringValue.
func TransformString(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	switch sv := s.(type) {
	case model.StringInsertOp:
		switch cv := c.(type) {
		case model.StringInsertOp:
			return transformStringInsertInsert(sv, cv)
		case model.StringRemoveOp:
			a, b := transformStringInsertRemove(sv, cv)
			return a, b
		case model.StringSetOp:
			return transformStringSetVsAny(cv, sv, false)
		}
	case model.StringRemoveOp:
		switch cv := c.(type) {
		case model.StringInsertOp:
			b, a := transformStringInsertRemove(cv, sv)
			return a, b
		case model.StringRemoveOp:
			return transformStringRemoveRemove(sv, cv)
		case model.StringSetOp:
			return transformStringSetVsAny(cv, sv, false)
		}
	case model.StringSetOp:
		switch cv := c.(type) {
		case model.StringInsertOp:
			return transformStringSetVsAny(sv, cv, true)
		case model.StringRemoveOp:
			return transformStringSetVsAny(sv, cv, true)
		case model.StringSetOp:
			return transformStringSetVsSet(sv, cv)
		}
	}
	return s, c
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

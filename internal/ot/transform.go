package ot

import "github.com/rectcircle/convergence-server/internal/model"

// Transform is the top-level entry point for the OT function matrix (spec
// §4.2, §8). It handles three concerns that sit above the per-value-kind
// rules in string.go/array.go/object.go/number.go/boolean.go/date.go:
//
//   - Operations on different vids never interact and pass through
//     unchanged.
//   - A no-op on either side short-circuits: it cannot have mutated the
//     tree, so the other side needs no adjustment.
//   - CompoundOp expansion: fold the compound side's sub-operations
//     left-to-right through the other side, threading the updated
//     "other side" into the next pair (spec §4.2's compound rule), and
//     flattening any sub-transform that itself produces a CompoundOp
//     (e.g. the string insert-inside-remove bisection) into the result
//     sequence rather than nesting compounds.
func Transform(s, c model.Operation) (model.Operation, model.Operation) {
	sCompound, sIsCompound := s.(model.CompoundOp)
	cCompound, cIsCompound := c.(model.CompoundOp)

	switch {
	case sIsCompound:
		newSOps := make([]model.DiscreteOp, 0, len(sCompound.Ops))
		curC := c
		for _, sub := range sCompound.Ops {
			sOut, cOut := Transform(sub, curC)
			newSOps = append(newSOps, asDiscreteOps(sOut)...)
			curC = cOut
		}
		return model.CompoundOp{Ops: newSOps}, curC
	case cIsCompound:
		newCOps := make([]model.DiscreteOp, 0, len(cCompound.Ops))
		curS := s
		for _, sub := range cCompound.Ops {
			sOut, cOut := Transform(curS, sub)
			curS = sOut
			newCOps = append(newCOps, asDiscreteOps(cOut)...)
		}
		return curS, model.CompoundOp{Ops: newCOps}
	}

	sd := s.(model.DiscreteOp)
	cd := c.(model.DiscreteOp)

	if sd.Target() != cd.Target() {
		return s, c
	}
	if sd.IsNoOp() || cd.IsNoOp() {
		return s, c
	}

	switch family(sd.Kind()) {
	case familyString:
		return TransformString(sd, cd)
	case familyArray:
		return TransformArray(sd, cd)
	case familyObject:
		return TransformObject(sd, cd)
	case familyNumber:
		return TransformNumber(sd, cd)
	case familyBoolean:
		return TransformBoolean(sd, cd)
	case familyDate:
		return TransformDate(sd, cd)
	default:
		return s, c
	}
}

type valueFamily int

const (
	familyUnknown valueFamily = iota
	familyString
	familyArray
	familyObject
	familyNumber
	familyBoolean
	familyDate
)

func family(k model.OpKind) valueFamily {
	switch k {
	case model.OpStringInsert, model.OpStringRemove, model.OpStringSet:
		return familyString
	case model.OpArrayInsert, model.OpArrayRemove, model.OpArrayReplace, model.OpArrayMove, model.OpArraySet:
		return familyArray
	case model.OpObjectAddProperty, model.OpObjectSetProperty, model.OpObjectRemoveProperty, model.OpObjectSet:
		return familyObject
	case model.OpNumberAdd, model.OpNumberSet:
		return familyNumber
	case model.OpBooleanSet:
		return familyBoolean
	case model.OpDateSet:
		return familyDate
	default:
		return familyUnknown
	}
}

func asDiscreteOps(op model.Operation) []model.DiscreteOp {
	if cmp, ok := op.(model.CompoundOp); ok {
		return cmp.Ops
	}
	return []model.DiscreteOp{op.(model.DiscreteOp)}
}

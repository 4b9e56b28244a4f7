package ot

import "github.com/rectcircle/convergence-server/internal/model"

// TransformBoolean dispatches the single BooleanSet-vs-BooleanSet pair
// (spec §4.2 "Boolean set vs set"): a value conflict resolved server-wins.
func TransformBoolean(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	if sv, ok := s.(model.BooleanSetOp); ok {
		if cv, ok := c.(model.BooleanSetOp); ok {
			return sv, cv.AsNoOp()
		}
	}
	return s, c
}

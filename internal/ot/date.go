package ot

import "github.com/rectcircle/convergence-server/internal/model"

// TransformDate dispatches the single DateSet-vs-DateSet pair (spec §4.2
// "Date set vs set"): a value conflict resolved server-wins.
func TransformDate(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	if sv, ok := s.(model.DateSetOp); ok {
		if cv, ok := c.(model.DateSetOp); ok {
			return sv, cv.AsNoOp()
		}
	}
	return s, c
}

package ot

import "github.com/rectcircle/convergence-server/internal/model"

// TransformNumber dispatches NumberAdd/NumberSet pairs (spec §4.2 "Number
// add vs add", "add vs set", "set vs set"). Adds commute with each other
// and with a concurrent set (the add's delta is re-applied on top of
// whatever the set produced: the set is rebased to its value plus the
// add's delta, the add is unchanged); two concurrent sets are a value
// conflict resolved server-wins.
func TransformNumber(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	switch sv := s.(type) {
	case model.NumberAddOp:
		switch cv := c.(type) {
		case model.NumberAddOp:
			return s, c
		case model.NumberSetOp:
			cv.Value += sv.Value
			return s, cv
		}
	case model.NumberSetOp:
		switch cv := c.(type) {
		case model.NumberAddOp:
			sv.Value += cv.Value
			return sv, cv
		case model.NumberSetOp:
			return s, cv.AsNoOp()
		}
	}
	return s, c
}

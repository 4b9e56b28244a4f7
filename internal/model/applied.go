package model

// AppliedOp is a DiscreteOp enriched with the data needed to undo it, as
// captured at the moment the tree applied it (spec §3: "An AppliedOperation
// is a DiscreteOperation enriched with enough inverse data to undo it").
// The operation log stores these, not the bare submitted op, because the
// op alone (e.g. ArrayRemove{Index}) does not carry what was removed.
type AppliedOp struct {
	Op DiscreteOp

	// Removed holds the element ArrayRemove deleted.
	Removed Value
	// Previous holds the prior value replaced by StringSet, NumberSet,
	// BooleanSet, DateSet, ArrayReplace, ObjectSetProperty, or
	// ObjectRemoveProperty (the removed property's prior value).
	Previous Value
	// PreviousProperties holds the object's entire property set prior to
	// an ObjectSet wholesale replacement.
	PreviousProperties map[string]Value
	// PreviousElements holds the array's entire element list prior to an
	// ArraySet wholesale replacement.
	PreviousElements []Value
}

// Clone returns an independent deep copy of the applied operation,
// including its inverse data.
func (a AppliedOp) Clone() AppliedOp {
	out := AppliedOp{Op: a.Op.Clone()}
	if a.Removed != nil {
		out.Removed = a.Removed.Clone()
	}
	if a.Previous != nil {
		out.Previous = a.Previous.Clone()
	}
	if a.PreviousProperties != nil {
		out.PreviousProperties = make(map[string]Value, len(a.PreviousProperties))
		for k, v := range a.PreviousProperties {
			out.PreviousProperties[k] = v.Clone()
		}
	}
	if a.PreviousElements != nil {
		out.PreviousElements = make([]Value, len(a.PreviousElements))
		for i, v := range a.PreviousElements {
			out.PreviousElements[i] = v.Clone()
		}
	}
	return out
}

package ot

import "github.com/rectcircle/convergence-server/internal/model"

// transformObjectAddAdd implements spec §4.2 "Object add-property vs
// add-property": concurrent adds of the same property name are a genuine
// conflict (both assumed the property was absent) — server wins, client
// becomes a no-op. On the client's side the property already exists, so
// the server add is rebased to a SetProperty of its value. Different
// property names are independent.
func transformObjectAddAdd(s, c model.ObjectAddPropertyOp) (model.Operation, model.Operation) {
	if s.Property == c.Property {
		return model.ObjectSetPropertyOp{Vid: s.Vid, NoOp: s.NoOp, Property: s.Property, Value: s.Value}, c.AsNoOp()
	}
	return s, c
}

// transformObjectSetSet implements "set-property vs set-property": same
// property is a value conflict resolved server-wins; different properties
// are independent.
func transformObjectSetSet(s, c model.ObjectSetPropertyOp) (model.Operation, model.Operation) {
	if s.Property == c.Property {
		return s, c.AsNoOp()
	}
	return s, c
}

// transformObjectRemoveRemove implements "remove-property vs
// remove-property": the second remove of the same property targets
// something already gone, so it becomes a no-op.
func transformObjectRemoveRemove(s, c model.ObjectRemovePropertyOp) (model.Operation, model.Operation) {
	if s.Property == c.Property {
		return s, c.AsNoOp()
	}
	return s, c
}

// transformObjectSetRemove implements "set-property vs remove-property" on
// the same property name: server-favored, whichever side is the server op
// survives and the client side is reduced to a no-op.
func transformObjectSetRemove(set model.ObjectSetPropertyOp, rem model.ObjectRemovePropertyOp, setIsServer bool) (model.Operation, model.Operation) {
	if set.Property != rem.Property {
		return set, rem
	}
	if setIsServer {
		return set, rem.AsNoOp()
	}
	return set.AsNoOp(), rem
}

// transformObjectSetVsAny implements the wholesale-set-wins rule (spec
// §4.2 "Object set vs anything").
func transformObjectSetVsAny(set model.ObjectSetOp, other model.DiscreteOp, setIsServer bool) (model.Operation, model.Operation) {
	if setIsServer {
		return set, other.AsNoOp()
	}
	return other.AsNoOp(), set
}

func transformObjectSetVsSet(s, c model.ObjectSetOp) (model.Operation, model.Operation) {
	return s, c.AsNoOp()
}

// TransformObject dispatches every (server, client) discrete-op pair that
// targets an ObjectValue. AddProperty assumes the property is absent,
// SetProperty tolerates either state, and RemoveProperty assumes
// presence — so AddProperty-vs-RemoveProperty pairs never need rebasing:
// both cannot be valid for the same property against one state. An
// AddProperty and a SetProperty of the same property resolve server-wins
// like two SetProperty ops: a server AddProperty becomes a SetProperty of
// its value and the client op becomes a no-op.
func TransformObject(s, c model.DiscreteOp) (model.Operation, model.Operation) {
	switch sv := s.(type) {
	case model.ObjectAddPropertyOp:
		switch cv := c.(type) {
		case model.ObjectAddPropertyOp:
			return transformObjectAddAdd(sv, cv)
		case model.ObjectSetPropertyOp:
			if sv.Property == cv.Property {
				return model.ObjectSetPropertyOp{Vid: sv.Vid, NoOp: sv.NoOp, Property: sv.Property, Value: sv.Value}, cv.AsNoOp()
			}
			return sv, cv
		case model.ObjectSetOp:
			return transformObjectSetVsAny(cv, sv, false)
		default:
			return sv, cv
		}
	case model.ObjectSetPropertyOp:
		switch cv := c.(type) {
		case model.ObjectSetPropertyOp:
			return transformObjectSetSet(sv, cv)
		case model.ObjectRemovePropertyOp:
			return transformObjectSetRemove(sv, cv, true)
		case model.ObjectAddPropertyOp:
			if sv.Property == cv.Property {
				return sv, cv.AsNoOp()
			}
			return sv, cv
		case model.ObjectSetOp:
			return transformObjectSetVsAny(cv, sv, false)
		default:
			return sv, cv
		}
	case model.ObjectRemovePropertyOp:
		switch cv := c.(type) {
		case model.ObjectRemovePropertyOp:
			return transformObjectRemoveRemove(sv, cv)
		case model.ObjectSetPropertyOp:
			a, b := transformObjectSetRemove(cv, sv, false)
			return b, a
		case model.ObjectSetOp:
			return transformObjectSetVsAny(cv, sv, false)
		default:
			return sv, cv
		}
	case model.ObjectSetOp:
		switch cv := c.(type) {
		case model.ObjectSetOp:
			return transformObjectSetVsSet(sv, cv)
		default:
			return transformObjectSetVsAny(sv, cv, true)
		}
	}
	return s, c
}

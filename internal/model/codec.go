package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rectcircle/convergence-server/internal/vid"
)

// This file implements the canonical binary wire/log encoding described in
// spec §6: fixed field order, explicit length prefixes, UTF-8 strings, and
// little-endian IEEE-754 doubles. It is deliberately symmetric (every
// Encode has a matching Decode) so the round-trip property in spec §8
// holds for every operation kind.

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); e.buf.Write(b[:]) }
func (e *encoder) u32(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); e.buf.Write(b[:]) }
func (e *encoder) u64(v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); e.buf.Write(b[:]) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }
func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}
func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}
func (e *encoder) vid(id vid.ID) { e.str(string(id)) }
func (e *encoder) bytes() []byte { return e.buf.Bytes() }

type decoder struct {
	data []byte
	pos  int
}

func newDecoder(data []byte) *decoder { return &decoder{data: data} }

func (d *decoder) need(n int) error {
	if d.pos+n > len(d.data) {
		return fmt.Errorf("model: truncated encoding: need %d bytes at offset %d, have %d", n, d.pos, len(d.data))
	}
	return nil
}

func (d *decoder) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) f64() (float64, error) {
	v, err := d.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (d *decoder) boolean() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := string(d.data[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) vid() (vid.ID, error) {
	s, err := d.str()
	return vid.ID(s), err
}

// ---- Value encoding ----

const (
	valueKindObject uint8 = iota
	valueKindArray
	valueKindString
	valueKindDouble
	valueKindBoolean
	valueKindDate
	valueKindNull
)

func encodeValue(e *encoder, v Value) {
	switch t := v.(type) {
	case *ObjectValue:
		e.u8(valueKindObject)
		e.vid(t.Vid)
		e.u32(uint32(len(t.Children)))
		for k, child := range t.Children {
			e.str(k)
			encodeValue(e, child)
		}
	case *ArrayValue:
		e.u8(valueKindArray)
		e.vid(t.Vid)
		e.u32(uint32(len(t.Children)))
		for _, child := range t.Children {
			encodeValue(e, child)
		}
	case *StringValue:
		e.u8(valueKindString)
		e.vid(t.Vid)
		e.str(t.Value)
	case *DoubleValue:
		e.u8(valueKindDouble)
		e.vid(t.Vid)
		e.f64(t.Value)
	case *BooleanValue:
		e.u8(valueKindBoolean)
		e.vid(t.Vid)
		e.bool(t.Value)
	case *DateValue:
		e.u8(valueKindDate)
		e.vid(t.Vid)
		e.i64(t.Value.UnixMilli())
	case *NullValue:
		e.u8(valueKindNull)
		e.vid(t.Vid)
	default:
		panic(fmt.Sprintf("model: unknown value type %T", v))
	}
}

func decodeValue(d *decoder) (Value, error) {
	kind, err := d.u8()
	if err != nil {
		return nil, err
	}
	id, err := d.vid()
	if err != nil {
		return nil, err
	}
	switch kind {
	case valueKindObject:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		obj := NewObjectValue(id)
		for i := uint32(0); i < n; i++ {
			key, err := d.str()
			if err != nil {
				return nil, err
			}
			child, err := decodeValue(d)
			if err != nil {
				return nil, err
			}
			obj.Children[key] = child
		}
		return obj, nil
	case valueKindArray:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		arr := NewArrayValue(id)
		arr.Children = make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			child, err := decodeValue(d)
			if err != nil {
				return nil, err
			}
			arr.Children = append(arr.Children, child)
		}
		return arr, nil
	case valueKindString:
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		return &StringValue{Vid: id, Value: s}, nil
	case valueKindDouble:
		f, err := d.f64()
		if err != nil {
			return nil, err
		}
		return &DoubleValue{Vid: id, Value: f}, nil
	case valueKindBoolean:
		b, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return &BooleanValue{Vid: id, Value: b}, nil
	case valueKindDate:
		ms, err := d.i64()
		if err != nil {
			return nil, err
		}
		return &DateValue{Vid: id, Value: time.UnixMilli(ms).UTC()}, nil
	case valueKindNull:
		return &NullValue{Vid: id}, nil
	default:
		return nil, fmt.Errorf("model: unknown value kind %d", kind)
	}
}

// EncodeValue encodes a single Value node (and its descendants) using the
// canonical data-value encoding shared by operation payloads and
// snapshots (spec §6).
func EncodeValue(v Value) []byte {
	e := &encoder{}
	encodeValue(e, v)
	return e.bytes()
}

// DecodeValue decodes a single Value node previously produced by
// EncodeValue.
func DecodeValue(data []byte) (Value, error) {
	d := newDecoder(data)
	return decodeValue(d)
}

// ---- Operation encoding ----

// EncodeOp encodes a single DiscreteOp to its canonical wire form: an
// opKind byte followed by the kind-specific body (spec §6).
func EncodeOp(op DiscreteOp) []byte {
	e := &encoder{}
	encodeDiscreteOp(e, op)
	return e.bytes()
}

func encodeDiscreteOp(e *encoder, op DiscreteOp) {
	e.u8(uint8(op.Kind()))
	e.vid(op.Target())
	e.bool(op.IsNoOp())
	switch o := op.(type) {
	case StringInsertOp:
		e.u32(uint32(o.Index))
		e.str(o.Value)
	case StringRemoveOp:
		e.u32(uint32(o.Index))
		e.str(o.Value)
	case StringSetOp:
		e.str(o.Value)
	case ArrayInsertOp:
		e.u32(uint32(o.Index))
		encodeValue(e, o.Value)
	case ArrayRemoveOp:
		e.u32(uint32(o.Index))
	case ArrayReplaceOp:
		e.u32(uint32(o.Index))
		encodeValue(e, o.Value)
	case ArrayMoveOp:
		e.u32(uint32(o.FromIndex))
		e.u32(uint32(o.ToIndex))
	case ArraySetOp:
		e.u32(uint32(len(o.Values)))
		for _, v := range o.Values {
			encodeValue(e, v)
		}
	case ObjectAddPropertyOp:
		e.str(o.Property)
		encodeValue(e, o.Value)
	case ObjectSetPropertyOp:
		e.str(o.Property)
		encodeValue(e, o.Value)
	case ObjectRemovePropertyOp:
		e.str(o.Property)
	case ObjectSetOp:
		e.u32(uint32(len(o.Values)))
		for k, v := range o.Values {
			e.str(k)
			encodeValue(e, v)
		}
	case NumberAddOp:
		e.f64(o.Value)
	case NumberSetOp:
		e.f64(o.Value)
	case BooleanSetOp:
		e.bool(o.Value)
	case DateSetOp:
		e.i64(o.Value.UnixMilli())
	default:
		panic(fmt.Sprintf("model: unknown discrete op type %T", op))
	}
}

// DecodeOp decodes a single DiscreteOp previously produced by EncodeOp.
func DecodeOp(data []byte) (DiscreteOp, error) {
	d := newDecoder(data)
	return decodeDiscreteOp(d)
}

func decodeDiscreteOp(d *decoder) (DiscreteOp, error) {
	kindByte, err := d.u8()
	if err != nil {
		return nil, err
	}
	id, err := d.vid()
	if err != nil {
		return nil, err
	}
	noOp, err := d.boolean()
	if err != nil {
		return nil, err
	}
	kind := OpKind(kindByte)
	switch kind {
	case OpStringInsert:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		val, err := d.str()
		if err != nil {
			return nil, err
		}
		return StringInsertOp{Vid: id, NoOp: noOp, Index: int(idx), Value: val}, nil
	case OpStringRemove:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		val, err := d.str()
		if err != nil {
			return nil, err
		}
		return StringRemoveOp{Vid: id, NoOp: noOp, Index: int(idx), Value: val}, nil
	case OpStringSet:
		val, err := d.str()
		if err != nil {
			return nil, err
		}
		return StringSetOp{Vid: id, NoOp: noOp, Value: val}, nil
	case OpArrayInsert:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(d)
		if err != nil {
			return nil, err
		}
		return ArrayInsertOp{Vid: id, NoOp: noOp, Index: int(idx), Value: val}, nil
	case OpArrayRemove:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		return ArrayRemoveOp{Vid: id, NoOp: noOp, Index: int(idx)}, nil
	case OpArrayReplace:
		idx, err := d.u32()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(d)
		if err != nil {
			return nil, err
		}
		return ArrayReplaceOp{Vid: id, NoOp: noOp, Index: int(idx), Value: val}, nil
	case OpArrayMove:
		from, err := d.u32()
		if err != nil {
			return nil, err
		}
		to, err := d.u32()
		if err != nil {
			return nil, err
		}
		return ArrayMoveOp{Vid: id, NoOp: noOp, FromIndex: int(from), ToIndex: int(to)}, nil
	case OpArraySet:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		values := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := decodeValue(d)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return ArraySetOp{Vid: id, NoOp: noOp, Values: values}, nil
	case OpObjectAddProperty:
		prop, err := d.str()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(d)
		if err != nil {
			return nil, err
		}
		return ObjectAddPropertyOp{Vid: id, NoOp: noOp, Property: prop, Value: val}, nil
	case OpObjectSetProperty:
		prop, err := d.str()
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(d)
		if err != nil {
			return nil, err
		}
		return ObjectSetPropertyOp{Vid: id, NoOp: noOp, Property: prop, Value: val}, nil
	case OpObjectRemoveProperty:
		prop, err := d.str()
		if err != nil {
			return nil, err
		}
		return ObjectRemovePropertyOp{Vid: id, NoOp: noOp, Property: prop}, nil
	case OpObjectSet:
		n, err := d.u32()
		if err != nil {
			return nil, err
		}
		values := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := d.str()
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(d)
			if err != nil {
				return nil, err
			}
			values[k] = v
		}
		return ObjectSetOp{Vid: id, NoOp: noOp, Values: values}, nil
	case OpNumberAdd:
		f, err := d.f64()
		if err != nil {
			return nil, err
		}
		return NumberAddOp{Vid: id, NoOp: noOp, Value: f}, nil
	case OpNumberSet:
		f, err := d.f64()
		if err != nil {
			return nil, err
		}
		return NumberSetOp{Vid: id, NoOp: noOp, Value: f}, nil
	case OpBooleanSet:
		b, err := d.boolean()
		if err != nil {
			return nil, err
		}
		return BooleanSetOp{Vid: id, NoOp: noOp, Value: b}, nil
	case OpDateSet:
		ms, err := d.i64()
		if err != nil {
			return nil, err
		}
		return DateSetOp{Vid: id, NoOp: noOp, Value: time.UnixMilli(ms).UTC()}, nil
	default:
		return nil, fmt.Errorf("model: unknown op kind %d", kindByte)
	}
}

// EncodeOperation encodes an Operation (discrete or compound) to its
// canonical wire form. Compound ops are encoded as opKind=0, count:u32,
// followed by each sub-op back to back (spec §6).
func EncodeOperation(op Operation) []byte {
	e := &encoder{}
	switch o := op.(type) {
	case CompoundOp:
		e.u8(0)
		e.u32(uint32(len(o.Ops)))
		for _, sub := range o.Ops {
			encodeDiscreteOp(e, sub)
		}
	case DiscreteOp:
		encodeDiscreteOp(e, o)
	default:
		panic(fmt.Sprintf("model: unknown operation type %T", op))
	}
	return e.bytes()
}

// DecodeOperation decodes an Operation previously produced by
// EncodeOperation.
func DecodeOperation(data []byte) (Operation, error) {
	d := newDecoder(data)
	kindByte, err := d.u8()
	if err != nil {
		return nil, err
	}
	if kindByte != 0 {
		d.pos = 0
		return decodeDiscreteOp(d)
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	ops := make([]DiscreteOp, 0, n)
	for i := uint32(0); i < n; i++ {
		op, err := decodeDiscreteOp(d)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return CompoundOp{Ops: ops}, nil
}

// ---- Operation log entry encoding ----

// EncodeLogEntry encodes a LogEntry's applied operation to the canonical
// operation-log binary format (spec §6): version, timestamp, session id,
// then the op body. The AppliedOp's inverse data is not part of the wire
// format; it is reconstructed by re-deriving it from the tree at replay
// time (Tree.Apply always recomputes it), so only Op itself is persisted.
func EncodeLogEntry(entry LogEntry) []byte {
	e := &encoder{}
	e.u64(entry.Version)
	e.i64(entry.Timestamp.UnixMilli())
	e.u16(uint16(len(entry.SessionID)))
	e.buf.WriteString(entry.SessionID)
	encodeDiscreteOp(e, entry.Op.Op)
	return e.bytes()
}

// DecodeLogEntry decodes a LogEntry's header and operation; ModelID is not
// part of the encoding (it is the partition key supplied by the caller).
func DecodeLogEntry(modelID string, data []byte) (LogEntry, error) {
	d := newDecoder(data)
	version, err := d.u64()
	if err != nil {
		return LogEntry{}, err
	}
	ms, err := d.i64()
	if err != nil {
		return LogEntry{}, err
	}
	sidLen, err := d.u16()
	if err != nil {
		return LogEntry{}, err
	}
	if err := d.need(int(sidLen)); err != nil {
		return LogEntry{}, err
	}
	sessionID := string(d.data[d.pos : d.pos+int(sidLen)])
	d.pos += int(sidLen)
	op, err := decodeDiscreteOp(d)
	if err != nil {
		return LogEntry{}, err
	}
	return LogEntry{
		ModelID:   modelID,
		Version:   version,
		Timestamp: time.UnixMilli(ms).UTC(),
		SessionID: sessionID,
		Op:        AppliedOp{Op: op},
	}, nil
}

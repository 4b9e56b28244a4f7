// Package transport adapts the coordinator's in-process message set to a
// websocket wire protocol and bridges broadcasts across nodes over Redis
// pub/sub, generalizing the upgrader+pubsub relay pattern to the full
// open/submit/close vocabulary this spec's coordinator exposes.
package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/rectcircle/convergence-server/internal/coordinator"
	"github.com/rectcircle/convergence-server/internal/model"
)

// frameKind discriminates the wire envelope. Values are stable across
// versions; never renumber a live kind.
type frameKind uint8

const (
	// client -> server
	frameSubmit frameKind = iota + 1
	frameDataResponse
	frameReferenceUpdate
	frameClose

	// server -> client
	frameOpenSuccess
	frameOpenFailure
	frameDataRequest
	frameAck
	frameRemoteOp
	frameClientOpened
	frameClientClosed
	frameForceClose
	frameCloseAck
	frameRejected
)

var errShortFrame = errors.New("transport: frame too short")

type writer struct{ buf bytes.Buffer }

func (w *writer) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *writer) u32(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }
func (w *writer) u64(v uint64) { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); w.buf.Write(b[:]) }
func (w *writer) i64(v int64)  { w.u64(uint64(v)) }
func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}
func (w *writer) bytesField(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}
func (w *writer) bytes() []byte { return w.buf.Bytes() }

type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) need(n int) error {
	if len(r.data)-r.pos < n {
		return errShortFrame
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// encodeSubmit builds a frameSubmit wire message from an OperationSubmission.
func encodeSubmit(submittedSeq uint32, contextVersion uint64, op model.Operation) []byte {
	w := &writer{}
	w.u8(uint8(frameSubmit))
	w.u32(submittedSeq)
	w.u64(contextVersion)
	w.bytesField(model.EncodeOperation(op))
	return w.bytes()
}

func decodeSubmit(r *reader) (seq uint32, ctxVersion uint64, op model.Operation, err error) {
	if seq, err = r.u32(); err != nil {
		return
	}
	if ctxVersion, err = r.u64(); err != nil {
		return
	}
	raw, err := r.bytesField()
	if err != nil {
		return
	}
	op, err = model.DecodeOperation(raw)
	return
}

func encodeDataResponse(root *model.ObjectValue) []byte {
	w := &writer{}
	w.u8(uint8(frameDataResponse))
	w.bytesField(model.EncodeValue(root))
	return w.bytes()
}

func decodeDataResponse(r *reader) (*model.ObjectValue, error) {
	raw, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	v, err := model.DecodeValue(raw)
	if err != nil {
		return nil, err
	}
	root, ok := v.(*model.ObjectValue)
	if !ok {
		return nil, fmt.Errorf("transport: cold-start root must be an object, got %T", v)
	}
	return root, nil
}

func encodeReferenceUpdate(payload []byte) []byte {
	w := &writer{}
	w.u8(uint8(frameReferenceUpdate))
	w.bytesField(payload)
	return w.bytes()
}

func encodeClose() []byte {
	w := &writer{}
	w.u8(uint8(frameClose))
	return w.bytes()
}

// remoteOpOrigin peeks a frameRemoteOp's OriginatingSessionID without
// decoding the rest of the payload, so Bridge can decide whether an
// incoming relayed frame is one this node's own coordinator already
// delivered in-process. Returns ok=false for any other frame kind or a
// malformed frame (the caller then treats it as having no known origin).
func remoteOpOrigin(frame []byte) (sessionID string, ok bool) {
	r := newReader(frame)
	kind, err := r.u8()
	if err != nil || frameKind(kind) != frameRemoteOp {
		return "", false
	}
	if _, err := r.u64(); err != nil { // AssignedVersion
		return "", false
	}
	if _, err := r.i64(); err != nil { // Timestamp
		return "", false
	}
	sessionID, err = r.str()
	if err != nil {
		return "", false
	}
	return sessionID, true
}

// encodeOutbound renders a coordinator outbound message as a wire frame.
// Returns nil, false for message types with no client-visible wire form.
func encodeOutbound(msg any) ([]byte, bool) {
	w := &writer{}
	switch m := msg.(type) {
	case coordinator.OpenSuccess:
		w.u8(uint8(frameOpenSuccess))
		w.u64(m.Meta.Version)
		w.str(m.Meta.ID)
		w.bytesField(model.EncodeValue(m.Root))
		w.u32(uint32(len(m.Participants)))
		for _, p := range m.Participants {
			w.str(p)
		}
	case coordinator.OpenFailure:
		w.u8(uint8(frameOpenFailure))
		w.str(m.Reason)
	case coordinator.ClientModelDataRequest:
		w.u8(uint8(frameDataRequest))
		w.str(m.ModelID)
	case coordinator.OperationAcknowledgement:
		w.u8(uint8(frameAck))
		w.u32(m.SubmittedSeq)
		w.u64(m.AssignedVersion)
		w.i64(m.Timestamp.UnixNano())
	case coordinator.OutgoingOperation:
		w.u8(uint8(frameRemoteOp))
		w.u64(m.AssignedVersion)
		w.i64(m.Timestamp.UnixNano())
		w.str(m.OriginatingSessionID)
		w.bytesField(model.EncodeOperation(m.Op))
	case coordinator.RemoteClientOpened:
		w.u8(uint8(frameClientOpened))
		w.str(m.SessionID)
	case coordinator.RemoteClientClosed:
		w.u8(uint8(frameClientClosed))
		w.str(m.SessionID)
	case coordinator.ModelForceClose:
		w.u8(uint8(frameForceClose))
		w.str(m.Reason)
	case coordinator.CloseAck:
		w.u8(uint8(frameCloseAck))
	case coordinator.OperationRejected:
		w.u8(uint8(frameRejected))
		w.u32(m.SubmittedSeq)
		w.str(m.Reason)
	default:
		return nil, false
	}
	return w.bytes(), true
}

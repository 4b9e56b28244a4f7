package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rectcircle/convergence-server/internal/coordinator"
)

// Session adapts one websocket connection to a single model coordinator's
// inbound/outbound message contract (spec §6), generalizing the
// CollabText upgrade+relay handler from a single hardcoded document to the
// full per-model registry and open/submit/close vocabulary this spec
// requires.
type Session struct {
	conn             *websocket.Conn
	registry         *coordinator.Registry
	bridge           *Bridge
	logger           *zap.Logger
	handshakeTimeout time.Duration

	collectionID string
	modelID      string
	sessionID    string

	// writeMu serializes writes to conn: writePump and relayRemote both
	// write frames.
	writeMu sync.Mutex
}

// NewSession constructs a Session for one already-upgraded connection,
// routed (by an external, authoritative layer — spec §1's routing
// Non-goal) to collectionID/modelID on this node.
func NewSession(conn *websocket.Conn, registry *coordinator.Registry, bridge *Bridge, logger *zap.Logger, handshakeTimeout time.Duration, collectionID, modelID string) *Session {
	return &Session{
		conn:             conn,
		registry:         registry,
		bridge:           bridge,
		logger:           logger,
		handshakeTimeout: handshakeTimeout,
		collectionID:     collectionID,
		modelID:          modelID,
		sessionID:        uuid.NewString(),
	}
}

// Run drives the session until the connection closes or the model open
// handshake fails. It blocks; callers invoke it from the connection's own
// goroutine (one per accepted websocket, as with the teacher's handler).
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	c := s.registry.Open(s.collectionID, s.modelID)
	outbound := make(chan any, 64)
	reply := make(chan coordinator.OpenResult, 1)
	c.Send(coordinator.OpenModel{SessionID: s.sessionID, Outbound: outbound, ReplyTo: reply})

	var res coordinator.OpenResult
	select {
	case res = <-reply:
	case <-time.After(s.handshakeTimeout):
		s.writeFrame(encodeOutboundOrNil(coordinator.OpenFailure{Reason: "handshake timeout"}))
		return
	case <-ctx.Done():
		return
	}
	if res.Failure != nil {
		s.writeFrame(encodeOutboundOrNil(*res.Failure))
		return
	}
	s.writeFrame(encodeOutboundOrNil(*res.Success))

	remoteFrames, leave := s.bridge.Join(s.modelID, s.sessionID)
	defer leave()

	writeDone := make(chan struct{})
	go s.writePump(ctx, outbound, writeDone)
	go s.relayRemote(remoteFrames)

	s.readPump(c)
	<-writeDone
}

func (s *Session) writePump(ctx context.Context, outbound <-chan any, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			frame, ok := encodeOutbound(msg)
			if !ok {
				continue
			}
			s.writeFrame(frame)
			switch msg.(type) {
			case coordinator.ModelForceClose, coordinator.CloseAck:
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) relayRemote(frames <-chan []byte) {
	if frames == nil {
		return
	}
	for frame := range frames {
		s.writeFrame(frame)
	}
}

func (s *Session) readPump(c *coordinator.Coordinator) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.closeModel(c)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := s.handleFrame(c, data); err != nil {
			s.logger.Warn("transport: malformed frame", zap.String("session_id", s.sessionID), zap.Error(err))
			continue
		}
	}
}

func (s *Session) handleFrame(c *coordinator.Coordinator, data []byte) error {
	r := newReader(data)
	kind, err := r.u8()
	if err != nil {
		return err
	}
	switch frameKind(kind) {
	case frameSubmit:
		seq, ctxVersion, op, err := decodeSubmit(r)
		if err != nil {
			return err
		}
		c.Send(coordinator.OperationSubmission{
			SessionID: s.sessionID, SubmittedSeq: seq, ContextVersion: ctxVersion, Op: op,
		})
	case frameDataResponse:
		root, err := decodeDataResponse(r)
		if err != nil {
			return err
		}
		c.Send(coordinator.ClientModelDataResponse{SessionID: s.sessionID, Root: root})
	case frameReferenceUpdate:
		payload, err := r.bytesField()
		if err != nil {
			return err
		}
		c.Send(coordinator.ReferenceUpdate{SessionID: s.sessionID, Payload: payload})
	case frameClose:
		s.closeModel(c)
	}
	return nil
}

func (s *Session) closeModel(c *coordinator.Coordinator) {
	reply := make(chan struct{}, 1)
	c.Send(coordinator.CloseModel{SessionID: s.sessionID, ReplyTo: reply})
}

func (s *Session) writeFrame(frame []byte) {
	if frame == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.logger.Warn("transport: write failed", zap.String("session_id", s.sessionID), zap.Error(err))
	}
}

func encodeOutboundOrNil(msg any) []byte {
	frame, ok := encodeOutbound(msg)
	if !ok {
		return nil
	}
	return frame
}

package coordinator

import (
	"time"

	"github.com/rectcircle/convergence-server/internal/model"
)

// Inbound messages, delivered from session transport actors (spec §6).

// OpenModel requests that sessionID join the model. ReplyTo receives
// exactly one OpenResult.
type OpenModel struct {
	SessionID string
	ReplyTo   chan<- OpenResult
	// Outbound is the channel this participant's outgoing messages (acks,
	// broadcasts, force-close) are delivered to, registered on success.
	Outbound chan<- any
}

// OpenResult is the single reply to an OpenModel request.
type OpenResult struct {
	Success *OpenSuccess
	Failure *OpenFailure
}

// CloseModel requests that sessionID leave the model.
type CloseModel struct {
	SessionID string
	ReplyTo   chan<- struct{}
}

// OperationSubmission is a locally-originated edit awaiting rebase,
// version assignment, and broadcast.
type OperationSubmission struct {
	SessionID      string
	SubmittedSeq   uint32
	ContextVersion uint64
	Op             model.Operation
}

// ClientModelDataResponse supplies the cold-start initial tree; only
// meaningful in the DataRequested state.
type ClientModelDataResponse struct {
	SessionID string
	Root      *model.ObjectValue
}

// ReferenceUpdate carries a presence cursor; routed but its payload
// semantics are out of core scope (spec §6).
type ReferenceUpdate struct {
	SessionID string
	Payload   any
}

// ModelDeleted is delivered by an external admin/lifecycle collaborator.
type ModelDeleted struct{}

// internal-only timer/control messages, funneled through the same inbox
// so the coordinator remains single-threaded (spec §9 "ask/future ->
// typed request-reply channels").
type dataRequestTimeoutFired struct{ sessionID string }
type lingerTimeoutFired struct{}
type shutdownRequested struct{ replyTo chan<- struct{} }

// Outbound messages, delivered to a participant's registered Outbound
// channel (spec §6).

type OpenSuccess struct {
	Root         *model.ObjectValue
	Meta         model.Model
	Participants []string
}

type OpenFailure struct {
	Reason string
}

type CloseAck struct{}

type ModelForceClose struct {
	Reason string
}

type ClientModelDataRequest struct {
	ModelID string
}

type OperationAcknowledgement struct {
	SubmittedSeq    uint32
	AssignedVersion uint64
	Timestamp       time.Time
}

type OutgoingOperation struct {
	AssignedVersion      uint64
	Timestamp            time.Time
	OriginatingSessionID string
	Op                   model.Operation
}

type RemoteClientOpened struct{ SessionID string }
type RemoteClientClosed struct{ SessionID string }

// OperationRejected is sent in place of an OperationAcknowledgement when a
// submission cannot be applied because the model is not yet Initialized or
// because ProcessSubmission rejected it outright. This is the "reject with
// a transient error" resolution of spec §9's open question on submissions
// arriving during Loading/DataRequested: the submitter retries once the
// model is ready rather than being queued by the coordinator.
type OperationRejected struct {
	SubmittedSeq uint32
	Reason       string
}

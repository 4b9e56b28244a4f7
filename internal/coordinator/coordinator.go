// Package coordinator implements the Realtime Model Coordinator (spec
// §4.5): the per-model state machine binding participants, the Server
// Concurrency Controller, persistence, and broadcast. Each Coordinator is
// a single-threaded cooperative entity (spec §5): all state lives in
// unexported fields mutated only from the goroutine running Run, and every
// external interaction goes through the inbox channel — mirroring the
// teacher's channel-owned hub loop, generalized from a single shared
// broadcast stream to the full open/submit/close/delete message set this
// spec requires.
package coordinator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/scc"
	"github.com/rectcircle/convergence-server/internal/snapshot"
	"github.com/rectcircle/convergence-server/internal/storage"
	"github.com/rectcircle/convergence-server/internal/tree"
)

// State is the coordinator's lifecycle stage (spec §4.5).
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateDataRequested
	StateInitialized
	StateForceClosing
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateLoading:
		return "Loading"
	case StateDataRequested:
		return "DataRequested"
	case StateInitialized:
		return "Initialized"
	case StateForceClosing:
		return "ForceClosing"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

type participant struct {
	sessionID string
	outbound  chan<- any
	// contextVersion is the model version this participant is known to
	// have caught up to: set to the model's version on admission, and
	// advanced to each newly-assigned version as it is acknowledged or
	// broadcast to them. Used as the floor for scc.EvictBefore (spec §4.4
	// "kept bounded to the minimum window required").
	contextVersion uint64
}

type pendingOpener struct {
	sessionID string
	replyTo   chan<- OpenResult
	outbound  chan<- any
	timer     *time.Timer
}

// Coordinator is the per-model actor. Construct with New and drive it with
// Run; deliver messages with Send.
type Coordinator struct {
	id           string
	collectionID string

	store  storage.Store
	cfg    Config
	logger *zap.Logger
	ctx    context.Context

	state State
	meta  model.Model
	tree  *tree.Tree
	scc   *scc.Controller
	policy *snapshot.Policy
	dirty bool

	participants map[string]*participant
	pendingOpeners []*pendingOpener

	lingerTimer *time.Timer

	inbox chan any
	done  chan struct{}
}

// New constructs a Coordinator for modelID in collectionID, uninitialized
// (no storage access happens until the first OpenModel is delivered).
func New(ctx context.Context, id, collectionID string, store storage.Store, cfg Config, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		id:           id,
		collectionID: collectionID,
		store:        store,
		cfg:          cfg,
		logger:       logger,
		ctx:          ctx,
		state:        StateUninitialized,
		participants: make(map[string]*participant),
		inbox:        make(chan any, 64),
		done:         make(chan struct{}),
	}
}

// Send delivers a message to the coordinator's inbox. It blocks if the
// inbox is full; callers that cannot block should run Send in their own
// goroutine.
func (c *Coordinator) Send(msg any) { c.inbox <- msg }

// Done is closed once Run returns (the coordinator has reached Shutdown).
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle stage. Safe to call only from
// outside the Run goroutine for diagnostics; it is not synchronized
// against concurrent Run processing, matching the single-writer model
// (only Run mutates state).
func (c *Coordinator) State() State { return c.state }

// Run drives the coordinator's message loop until the coordinator reaches
// Shutdown. It does not watch the context passed to New.
func (c *Coordinator) Run() {
	// Termination is driven entirely by reaching StateShutdown via a
	// message (ModelDeleted, a force close, or shutdownRequested), not by
	// ctx cancellation: Registry.Shutdown sends shutdownRequested and
	// waits for its reply, which requires this loop still be running when
	// that message is processed.
	defer close(c.done)
	for {
		msg := <-c.inbox
		c.handle(msg)
		if c.state == StateShutdown {
			return
		}
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case OpenModel:
		c.handleOpenModel(m)
	case CloseModel:
		c.handleCloseModel(m)
	case OperationSubmission:
		c.handleOperationSubmission(m)
	case ClientModelDataResponse:
		c.handleClientModelDataResponse(m)
	case ReferenceUpdate:
		c.handleReferenceUpdate(m)
	case ModelDeleted:
		c.handleModelDeleted()
	case dataRequestTimeoutFired:
		c.handleDataRequestTimeout(m)
	case lingerTimeoutFired:
		c.handleLingerTimeout()
	case shutdownRequested:
		c.handleShutdownRequested(m)
	default:
		c.logger.Warn("coordinator: unknown message type", zap.String("model_id", c.id))
	}
}

func (c *Coordinator) handleOpenModel(msg OpenModel) {
	switch c.state {
	case StateUninitialized:
		c.state = StateLoading
		loaded, err := c.store.LoadModel(c.ctx, c.id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.state = StateDataRequested
			c.queueOpener(msg)
			c.requestColdStartData(msg.SessionID)
		case err != nil:
			c.logger.Error("coordinator: load model failed", zap.String("model_id", c.id), zap.Error(err))
			msg.ReplyTo <- OpenResult{Failure: &OpenFailure{Reason: "load failed"}}
			c.state = StateShutdown
		default:
			if err := c.initializeFromStorage(loaded); err != nil {
				c.logger.Error("coordinator: replay failed", zap.String("model_id", c.id), zap.Error(err))
				msg.ReplyTo <- OpenResult{Failure: &OpenFailure{Reason: "replay failed"}}
				c.state = StateShutdown
				return
			}
			c.state = StateInitialized
			c.admitParticipant(msg.SessionID, msg.Outbound, msg.ReplyTo)
		}
	case StateLoading:
		c.queueOpener(msg)
	case StateDataRequested:
		c.queueOpener(msg)
		c.requestColdStartData(msg.SessionID)
	case StateInitialized:
		if _, exists := c.participants[msg.SessionID]; exists {
			msg.ReplyTo <- OpenResult{Failure: &OpenFailure{Reason: ErrModelAlreadyOpen.Error()}}
			return
		}
		c.admitParticipant(msg.SessionID, msg.Outbound, msg.ReplyTo)
	case StateForceClosing, StateShutdown:
		msg.ReplyTo <- OpenResult{Failure: &OpenFailure{Reason: "model unavailable"}}
	}
}

func (c *Coordinator) initializeFromStorage(loaded storage.LoadedModel) error {
	root := loaded.LatestSnapshotRoot
	if root == nil {
		root = loaded.Meta.Root
	}
	t := tree.New(root)
	ops, err := c.store.LoadOperations(c.ctx, c.id, loaded.LatestSnapshotVer)
	if err != nil {
		return err
	}
	for _, entry := range ops {
		if _, err := t.Apply(entry.Op.Op); err != nil {
			return err
		}
	}
	c.meta = loaded.Meta
	c.tree = t
	c.scc = scc.New(loaded.Meta.Version)
	c.policy = snapshot.New(c.cfg.Snapshot, loaded.LatestSnapshotVer, loaded.Meta.ModifiedAt)
	return nil
}

func (c *Coordinator) queueOpener(msg OpenModel) {
	c.pendingOpeners = append(c.pendingOpeners, &pendingOpener{
		sessionID: msg.SessionID,
		replyTo:   msg.ReplyTo,
		outbound:  msg.Outbound,
	})
}

func (c *Coordinator) requestColdStartData(sessionID string) {
	for _, o := range c.pendingOpeners {
		if o.sessionID != sessionID {
			continue
		}
		o.outbound <- ClientModelDataRequest{ModelID: c.id}
		sid := sessionID
		o.timer = time.AfterFunc(c.cfg.DataRequestTimeout, func() {
			c.deliverInternal(dataRequestTimeoutFired{sessionID: sid})
		})
		return
	}
}

// deliverInternal is used by timers (which run on their own goroutine) to
// feed a message back into the single-threaded loop without blocking
// forever if the coordinator has already shut down.
func (c *Coordinator) deliverInternal(msg any) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Coordinator) handleClientModelDataResponse(msg ClientModelDataResponse) {
	if c.state != StateDataRequested {
		return
	}
	idx := -1
	for i, o := range c.pendingOpeners {
		if o.sessionID == msg.SessionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	if c.pendingOpeners[idx].timer != nil {
		c.pendingOpeners[idx].timer.Stop()
	}

	now := time.Now()
	if err := c.store.CreateModel(c.ctx, c.id, c.collectionID, msg.Root, now); err != nil {
		c.logger.Error("coordinator: create model failed", zap.String("model_id", c.id), zap.Error(err))
		for _, o := range c.pendingOpeners {
			if o.timer != nil {
				o.timer.Stop()
			}
			o.replyTo <- OpenResult{Failure: &OpenFailure{Reason: "create failed"}}
		}
		c.pendingOpeners = nil
		c.state = StateShutdown
		return
	}

	c.meta = model.Model{ID: c.id, CollectionID: c.collectionID, Version: 0, CreatedAt: now, ModifiedAt: now, Root: msg.Root}
	c.tree = tree.New(msg.Root)
	c.scc = scc.New(0)
	c.policy = snapshot.New(c.cfg.Snapshot, 0, now)
	c.state = StateInitialized

	openers := c.pendingOpeners
	c.pendingOpeners = nil
	for _, o := range openers {
		if o.timer != nil {
			o.timer.Stop()
		}
		c.admitParticipant(o.sessionID, o.outbound, o.replyTo)
	}
}

func (c *Coordinator) handleDataRequestTimeout(ev dataRequestTimeoutFired) {
	if c.state != StateDataRequested {
		return
	}
	idx := -1
	for i, o := range c.pendingOpeners {
		if o.sessionID == ev.sessionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	opener := c.pendingOpeners[idx]
	c.pendingOpeners = append(c.pendingOpeners[:idx], c.pendingOpeners[idx+1:]...)
	opener.replyTo <- OpenResult{Failure: &OpenFailure{Reason: ErrDataRequestTimeout.Error()}}

	if len(c.pendingOpeners) == 0 {
		c.state = StateShutdown
	}
}

// admitParticipant registers sessionID as a live participant, replies
// OpenSuccess, and notifies the existing participants of the new arrival.
func (c *Coordinator) admitParticipant(sessionID string, outbound chan<- any, replyTo chan<- OpenResult) {
	c.broadcast(RemoteClientOpened{SessionID: sessionID})
	c.participants[sessionID] = &participant{sessionID: sessionID, outbound: outbound, contextVersion: c.scc.ModelVersion()}
	if c.lingerTimer != nil {
		c.lingerTimer.Stop()
		c.lingerTimer = nil
	}
	replyTo <- OpenResult{Success: &OpenSuccess{
		Root:         c.tree.Materialize(),
		Meta:         c.meta,
		Participants: c.participantIDs(),
	}}
}

func (c *Coordinator) participantIDs() []string {
	ids := make([]string, 0, len(c.participants))
	for id := range c.participants {
		ids = append(ids, id)
	}
	return ids
}

// minParticipantContextVersion returns the lowest contextVersion among
// live participants, the floor below which scc history is safe to evict
// (spec §4.4). With no participants connected, the current model version
// is used: handleOperationSubmission only calls this with the submitter
// still registered, so the map is never empty here.
func (c *Coordinator) minParticipantContextVersion() uint64 {
	floor := c.scc.ModelVersion()
	first := true
	for _, p := range c.participants {
		if first || p.contextVersion < floor {
			floor = p.contextVersion
			first = false
		}
	}
	return floor
}

func (c *Coordinator) broadcast(msg any) {
	for _, p := range c.participants {
		p.outbound <- msg
	}
}

func (c *Coordinator) broadcastExcept(sessionID string, msg any) {
	for id, p := range c.participants {
		if id == sessionID {
			continue
		}
		p.outbound <- msg
	}
}

func (c *Coordinator) handleCloseModel(msg CloseModel) {
	defer func() {
		if msg.ReplyTo != nil {
			msg.ReplyTo <- struct{}{}
		}
	}()
	p, ok := c.participants[msg.SessionID]
	if !ok {
		return
	}
	p.outbound <- CloseAck{}
	delete(c.participants, msg.SessionID)
	c.broadcastExcept(msg.SessionID, RemoteClientClosed{SessionID: msg.SessionID})

	if len(c.participants) == 0 && c.state == StateInitialized {
		c.lingerTimer = time.AfterFunc(c.cfg.LingerTimeout, func() {
			c.deliverInternal(lingerTimeoutFired{})
		})
	}
}

func (c *Coordinator) handleReferenceUpdate(msg ReferenceUpdate) {
	if c.state != StateInitialized {
		return
	}
	if _, ok := c.participants[msg.SessionID]; !ok {
		return
	}
	c.broadcastExcept(msg.SessionID, msg)
}

func (c *Coordinator) handleOperationSubmission(msg OperationSubmission) {
	if c.state != StateInitialized {
		if p, ok := c.participants[msg.SessionID]; ok {
			p.outbound <- OperationRejected{SubmittedSeq: msg.SubmittedSeq, Reason: "model not ready"}
		}
		return
	}
	p, ok := c.participants[msg.SessionID]
	if !ok {
		return
	}

	_, transformedOp, err := c.scc.ProcessSubmission(msg.SessionID, msg.ContextVersion, msg.Op)
	if err != nil {
		p.outbound <- OperationRejected{SubmittedSeq: msg.SubmittedSeq, Reason: err.Error()}
		c.forceClose("invalid context version: " + err.Error())
		return
	}

	applied, err := c.applyOperation(transformedOp)
	if err != nil {
		c.forceClose("apply failed: " + err.Error())
		return
	}

	now := time.Now()
	version := c.scc.ModelVersion()
	for _, a := range applied {
		version++
		entry := model.LogEntry{ModelID: c.id, Version: version, Timestamp: now, SessionID: msg.SessionID, Op: a}
		if err := c.store.AppendOperation(c.ctx, entry); err != nil {
			c.forceClose("append failed: " + err.Error())
			return
		}
		c.scc.Record(version, msg.SessionID, a)
		out := OutgoingOperation{
			AssignedVersion:      version,
			Timestamp:            now,
			OriginatingSessionID: msg.SessionID,
			Op:                   a.Op,
		}
		// Local delivery (in-process, once per recipient) and cross-process
		// fan-out (once total, regardless of local recipient count) are two
		// distinct concerns; conflating them by publishing from each
		// recipient's own send path would publish N times and loop the
		// operation back to participants who already have it.
		c.broadcastExcept(msg.SessionID, out)
		if c.cfg.Broadcaster != nil {
			c.cfg.Broadcaster(c.id, out)
		}
		for _, pp := range c.participants {
			pp.contextVersion = version
		}
	}
	c.dirty = true
	c.meta.Version = version
	c.meta.ModifiedAt = now
	if err := c.store.Touch(c.ctx, c.id, version, now); err != nil {
		c.logger.Warn("coordinator: touch model metadata failed", zap.String("model_id", c.id), zap.Error(err))
	}
	c.scc.EvictBefore(c.minParticipantContextVersion())

	p.outbound <- OperationAcknowledgement{SubmittedSeq: msg.SubmittedSeq, AssignedVersion: version, Timestamp: now}

	if c.policy.ShouldSnapshot(version, now) {
		snap := model.Snapshot{ModelID: c.id, Version: version, Timestamp: now, Root: c.tree.Materialize()}
		if err := c.store.WriteSnapshot(c.ctx, snap); err != nil {
			c.logger.Warn("coordinator: snapshot write failed, will retry on next trigger", zap.String("model_id", c.id), zap.Error(err))
		} else {
			c.policy.RecordSnapshot(version, now)
			c.dirty = false
		}
	}
}

func (c *Coordinator) applyOperation(op model.Operation) ([]model.AppliedOp, error) {
	switch o := op.(type) {
	case model.CompoundOp:
		return c.tree.ApplyCompound(o.Ops)
	case model.DiscreteOp:
		a, err := c.tree.Apply(o)
		if err != nil {
			return nil, err
		}
		return []model.AppliedOp{a}, nil
	default:
		return nil, errors.New("coordinator: unknown operation type")
	}
}

func (c *Coordinator) forceClose(reason string) {
	c.logger.Error("coordinator: force closing model",
		zap.String("model_id", c.id),
		zap.Uint64("version", c.scc.ModelVersion()),
		zap.String("reason", reason))
	c.broadcast(ModelForceClose{Reason: "internal"})
	c.state = StateShutdown
}

func (c *Coordinator) handleModelDeleted() {
	c.broadcast(ModelForceClose{Reason: "deleted"})
	if err := c.store.DeleteModel(c.ctx, c.id); err != nil {
		c.logger.Error("coordinator: delete model cascade failed", zap.String("model_id", c.id), zap.Error(err))
	}
	c.state = StateShutdown
}

func (c *Coordinator) handleLingerTimeout() {
	if c.state != StateInitialized || len(c.participants) > 0 {
		return
	}
	if c.dirty {
		snap := model.Snapshot{ModelID: c.id, Version: c.scc.ModelVersion(), Timestamp: time.Now(), Root: c.tree.Materialize()}
		if err := c.store.WriteSnapshot(c.ctx, snap); err != nil {
			c.logger.Warn("coordinator: final snapshot on linger failed", zap.String("model_id", c.id), zap.Error(err))
		}
	}
	c.state = StateShutdown
}

func (c *Coordinator) handleShutdownRequested(msg shutdownRequested) {
	c.broadcast(ModelForceClose{Reason: "shutdown"})
	c.state = StateShutdown
	if msg.replyTo != nil {
		msg.replyTo <- struct{}{}
	}
}

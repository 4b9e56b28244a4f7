package transport

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rectcircle/convergence-server/internal/coordinator"
)

// Bridge fans a model's already-routed OutgoingOperation broadcasts across
// process boundaries over Redis pub/sub, so a participant served by a node
// other than the one whose in-memory coordinator owns the model's write
// path still observes the model's broadcasts (spec SPEC_FULL.md §4.10). It
// carries payloads only; which node owns a model's write path is decided
// upstream and is out of scope here.
//
// A model's coordinator publishes each OutgoingOperation exactly once
// (internal/coordinator.Config.Broadcaster, wired in cmd/convergence-server);
// Bridge multiplexes one Redis subscription per model across every local
// session joined to it, and never relays a frame back to sessions that are
// local to the same model on this node — those already received it via the
// coordinator's own in-process broadcastExcept.
type Bridge struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*modelSubscription
}

// modelSubscription is the shared Redis subscription for one model, kept
// alive while at least one local session is joined to it.
type modelSubscription struct {
	refCount  int
	cancel    func()
	local     map[string]struct{}
	listeners map[string]chan []byte
}

// NewBridge returns a Bridge with its own Redis client for addr, or nil if
// addr is empty (cross-node fan-out disabled, single-node mode).
func NewBridge(addr string, logger *zap.Logger) *Bridge {
	if addr == "" {
		return nil
	}
	return &Bridge{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		logger: logger,
		subs:   make(map[string]*modelSubscription),
	}
}

func (b *Bridge) channel(modelID string) string { return "convergence:model:" + modelID }

// Publish fans frame out to every other node subscribed to modelID's
// channel. A nil Bridge is a no-op (single-node mode). Called exactly once
// per operation, from the coordinator's canonical broadcast point.
func (b *Bridge) Publish(ctx context.Context, modelID string, frame []byte) {
	if b == nil {
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(modelID), frame).Err(); err != nil {
		b.logger.Warn("transport: redis publish failed", zap.String("model_id", modelID), zap.Error(err))
	}
}

// PublishOperation encodes op as a wire frame and publishes it. It exists
// so cmd/convergence-server can wire a coordinator.Broadcaster without the
// coordinator package importing transport (which already imports
// coordinator).
func PublishOperation(ctx context.Context, b *Bridge, modelID string, op coordinator.OutgoingOperation) {
	frame, ok := encodeOutbound(op)
	if !ok {
		return
	}
	b.Publish(ctx, modelID, frame)
}

// Join registers sessionID as a local participant of modelID and returns a
// channel of frames relayed from other nodes, plus a leave func that must
// be called once the session is done. The underlying Redis subscription
// for a model is created once, on the first Join, and shared by every
// subsequent local session for that model; it is torn down once the last
// one leaves. A nil Bridge returns a nil channel and a no-op leave.
func (b *Bridge) Join(modelID, sessionID string) (<-chan []byte, func()) {
	if b == nil {
		return nil, func() {}
	}

	b.mu.Lock()
	sub, ok := b.subs[modelID]
	if !ok {
		sub = &modelSubscription{local: make(map[string]struct{}), listeners: make(map[string]chan []byte)}
		b.subs[modelID] = sub
	}
	sub.refCount++
	sub.local[sessionID] = struct{}{}
	out := make(chan []byte, 32)
	sub.listeners[sessionID] = out
	first := sub.refCount == 1
	b.mu.Unlock()

	if first {
		b.startSubscription(modelID, sub)
	}

	return out, func() { b.leave(modelID, sessionID) }
}

// startSubscription opens the one Redis subscription backing sub and fans
// incoming frames out to sub's local listeners, skipping any frame whose
// OriginatingSessionID is itself local to this model on this node (it was
// already delivered in-process by this node's own coordinator).
func (b *Bridge) startSubscription(modelID string, sub *modelSubscription) {
	redisSub := b.rdb.Subscribe(context.Background(), b.channel(modelID))
	done := make(chan struct{})
	sub.cancel = func() {
		close(done)
		_ = redisSub.Close()
	}
	go func() {
		ch := redisSub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.deliver(modelID, sub, []byte(msg.Payload))
			case <-done:
				return
			}
		}
	}()
}

func (b *Bridge) deliver(modelID string, sub *modelSubscription, frame []byte) {
	origin, hasOrigin := remoteOpOrigin(frame)

	b.mu.Lock()
	if hasOrigin {
		if _, isLocal := sub.local[origin]; isLocal {
			b.mu.Unlock()
			return
		}
	}
	listeners := make([]chan []byte, 0, len(sub.listeners))
	for _, ch := range sub.listeners {
		listeners = append(listeners, ch)
	}
	b.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- frame:
		default:
			b.logger.Warn("transport: dropping relayed frame, listener buffer full", zap.String("model_id", modelID))
		}
	}
}

func (b *Bridge) leave(modelID, sessionID string) {
	b.mu.Lock()
	sub, ok := b.subs[modelID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(sub.local, sessionID)
	if ch, ok := sub.listeners[sessionID]; ok {
		close(ch)
		delete(sub.listeners, sessionID)
	}
	sub.refCount--
	last := sub.refCount <= 0
	if last {
		delete(b.subs, modelID)
	}
	b.mu.Unlock()

	if last && sub.cancel != nil {
		sub.cancel()
	}
}

// Close releases the underlying Redis client. A nil Bridge is a no-op.
func (b *Bridge) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}

package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rectcircle/convergence-server/internal/storage"
)

// Registry creates one Coordinator per model on first access and retires
// it once its Run loop reaches Shutdown, so idle models do not hold a
// goroutine or tree in memory indefinitely (spec §3 "Lifecycles", §5).
type Registry struct {
	mu     sync.Mutex
	store  storage.Store
	cfg    Config
	logger *zap.Logger
	ctx    context.Context

	coordinators map[string]*Coordinator
}

// NewRegistry returns a Registry whose coordinators use ctx for their
// storage calls. Each coordinator runs until it reaches Shutdown;
// cancelling ctx does not stop it (see Shutdown).
func NewRegistry(ctx context.Context, store storage.Store, cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		ctx:          ctx,
		store:        store,
		cfg:          cfg,
		logger:       logger,
		coordinators: make(map[string]*Coordinator),
	}
}

// Open returns the live Coordinator for (collectionID, modelID), starting
// one if none is running. The caller should Send an OpenModel to the
// result to actually join.
func (r *Registry) Open(collectionID, modelID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.coordinators[modelID]; ok {
		return c
	}

	c := New(r.ctx, modelID, collectionID, r.store, r.cfg, r.logger.With(zap.String("model_id", modelID)))
	r.coordinators[modelID] = c
	go func() {
		c.Run()
		r.retire(modelID, c)
	}()
	return c
}

// retire removes a Coordinator from the registry once its Run loop exits,
// but only if it is still the instance registered under modelID (a fresh
// Open may have already replaced it).
func (r *Registry) retire(modelID string, c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.coordinators[modelID]; ok && cur == c {
		delete(r.coordinators, modelID)
	}
}

// Shutdown requests every live coordinator close out its participants and
// stop, waiting for all of them in parallel so that one slow model (e.g.
// one mid-snapshot-write) does not delay the rest.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		coords = append(coords, c)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, c := range coords {
		c := c
		g.Go(func() error {
			reply := make(chan struct{})
			c.Send(shutdownRequested{replyTo: reply})
			<-reply
			<-c.Done()
			return nil
		})
	}
	_ = g.Wait()
}

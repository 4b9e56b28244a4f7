// Package ccc implements the Client Concurrency Controller (spec §4.3):
// per-participant state tracking a contextual version and the set of
// locally submitted operations not yet acknowledged by the server.
package ccc

import (
	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/ot"
)

// Controller is owned exclusively by one participant's session state; it is
// not safe for concurrent use from multiple goroutines.
type Controller struct {
	contextVersion uint64
	outgoing       []model.Operation
}

// New returns a Controller seeded at the given starting context version
// (the version of the model the participant opened at).
func New(startVersion uint64) *Controller {
	return &Controller{contextVersion: startVersion}
}

// ContextVersion returns the version this participant believes is current.
func (c *Controller) ContextVersion() uint64 { return c.contextVersion }

// Outgoing returns the ops submitted but not yet acknowledged, oldest
// first. The returned slice must not be mutated by the caller.
func (c *Controller) Outgoing() []model.Operation { return c.outgoing }

// Submit records a locally originated operation as outgoing. The caller is
// responsible for forwarding op to the server alongside ContextVersion().
func (c *Controller) Submit(op model.Operation) {
	c.outgoing = append(c.outgoing, op)
}

// OnAck pops the oldest outgoing operation (the one the acknowledgement
// corresponds to) and advances the context version.
func (c *Controller) OnAck() {
	if len(c.outgoing) == 0 {
		return
	}
	c.outgoing = c.outgoing[1:]
	c.contextVersion++
}

// OnRemote folds a remote operation through every still-outgoing local
// operation (spec §4.3): for each outgoing op, tf(remote, outgoing_i) ->
// (remote', outgoing_i'); outgoing_i is replaced by outgoing_i' and the
// walk continues with remote'. The final remote' is returned for the
// caller to apply to the local tree; the context version advances by one.
func (c *Controller) OnRemote(remote model.Operation) model.Operation {
	cur := remote
	for i, pending := range c.outgoing {
		var transformed model.Operation
		cur, transformed = ot.Transform(cur, pending)
		c.outgoing[i] = transformed
	}
	c.contextVersion++
	return cur
}

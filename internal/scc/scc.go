// Package scc implements the Server Concurrency Controller (spec §4.4):
// one per model, owning the canonical version counter and the bounded
// history window used to rebase a client submission whose reference
// version has fallen behind.
package scc

import (
	"errors"

	"github.com/rectcircle/convergence-server/internal/model"
	"github.com/rectcircle/convergence-server/internal/ot"
)

// ErrInvalidContextVersion is returned when a submission's contextVersion
// is greater than the current model version — a contract violation that
// is fatal for the submitting participant (spec §4.4 step 1, §7).
var ErrInvalidContextVersion = errors.New("scc: context version is ahead of model version")

// historyEntry is one already-applied operation kept around long enough to
// rebase late-arriving submissions against it.
type historyEntry struct {
	version   uint64
	sessionID string
	op        model.AppliedOp
}

// Controller is owned exclusively by one model's coordinator.
type Controller struct {
	modelVersion uint64
	history      []historyEntry
}

// New returns a Controller seated at the given starting version (the
// version the model was at when its coordinator initialized).
func New(startVersion uint64) *Controller {
	return &Controller{modelVersion: startVersion}
}

// ModelVersion returns the current canonical version.
func (c *Controller) ModelVersion() uint64 { return c.modelVersion }

// Record appends an already-applied operation to history and advances the
// canonical version. Called by the coordinator immediately after a
// successful Apply to the Data Value Tree.
func (c *Controller) Record(version uint64, sessionID string, applied model.AppliedOp) {
	c.history = append(c.history, historyEntry{version: version, sessionID: sessionID, op: applied})
	if version > c.modelVersion {
		c.modelVersion = version
	}
}

// EvictBefore drops history entries older than the given version, which
// the caller must guarantee is less than or equal to every live
// participant's contextVersion (spec §4.4 "kept bounded to the minimum
// window required").
func (c *Controller) EvictBefore(version uint64) {
	cut := 0
	for cut < len(c.history) && c.history[cut].version < version {
		cut++
	}
	c.history = c.history[cut:]
}

// ProcessSubmission implements spec §4.4's processSubmission: it rebases
// op forward through every intervening history entry not originated by
// sessionID and returns the version to assign and the transformed
// operation. The caller is responsible for applying the transformed
// operation to the tree and recording it via Record.
func (c *Controller) ProcessSubmission(sessionID string, contextVersion uint64, op model.Operation) (assignedVersion uint64, transformed model.Operation, err error) {
	if contextVersion > c.modelVersion {
		return 0, nil, ErrInvalidContextVersion
	}
	cur := op
	for _, h := range c.history {
		if h.version <= contextVersion {
			continue
		}
		if h.sessionID == sessionID {
			continue
		}
		_, cur = ot.Transform(h.op.Op, cur)
	}
	return c.modelVersion + 1, cur, nil
}

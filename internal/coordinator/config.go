package coordinator

import (
	"time"

	"github.com/rectcircle/convergence-server/internal/snapshot"
)

// Broadcaster publishes an already-assigned operation outside this
// process (e.g. over Redis) exactly once, so other nodes' sessions for the
// same model can observe it. Called at most once per applied operation,
// from the single canonical broadcast point in handleOperationSubmission —
// never per recipient. A nil Broadcaster disables cross-process fan-out.
type Broadcaster func(modelID string, op OutgoingOperation)

// Config holds the per-model timing and snapshot-cadence parameters spec
// §6 lists as coordinator configuration.
type Config struct {
	HandshakeTimeout   time.Duration
	DataRequestTimeout time.Duration
	LingerTimeout      time.Duration
	Snapshot           snapshot.PolicyConfig
	Broadcaster        Broadcaster
}

// DefaultConfig returns conservative defaults so a coordinator is usable
// without explicit configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		DataRequestTimeout: 30 * time.Second,
		LingerTimeout:      2 * time.Minute,
		Snapshot: snapshot.PolicyConfig{
			TriggerByVersion: 100,
			MinVersionDelta:  10,
		},
	}
}

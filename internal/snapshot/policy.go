// Package snapshot implements the Snapshot Policy (spec §4.6): the
// decision of when the coordinator should materialize and persist the
// live Data Value Tree, evaluated at most once per applied operation.
package snapshot

import "time"

// PolicyConfig is the YAML-addressable configuration for a model's
// snapshot cadence (spec §4.6, §6 "snapshotPolicy").
type PolicyConfig struct {
	TriggerByVersion uint64        // 0 means disabled
	TriggerByElapsed time.Duration // 0 means disabled
	MinVersionDelta  uint64
	MinElapsed       time.Duration
	LimitByVersion   uint64 // 0 means no limit
	LimitByElapsed   time.Duration
}

// Policy evaluates whether a snapshot should be taken after applying the
// operation at a given version. It is owned exclusively by one model's
// coordinator and tracks the version/time of the last snapshot taken.
type Policy struct {
	cfg PolicyConfig

	lastSnapshotVersion uint64
	lastSnapshotAt      time.Time
}

// New returns a Policy seeded with the version/time of the most recently
// written snapshot (zero value if the model has never been snapshotted).
func New(cfg PolicyConfig, lastSnapshotVersion uint64, lastSnapshotAt time.Time) *Policy {
	return &Policy{cfg: cfg, lastSnapshotVersion: lastSnapshotVersion, lastSnapshotAt: lastSnapshotAt}
}

// ShouldSnapshot reports whether a snapshot should be taken after applying
// the operation at version, observed at now. It does not itself mutate
// state; call RecordSnapshot once the snapshot write has succeeded.
func (p *Policy) ShouldSnapshot(version uint64, now time.Time) bool {
	versionDelta := version - p.lastSnapshotVersion
	elapsed := now.Sub(p.lastSnapshotAt)

	if p.cfg.LimitByVersion > 0 && versionDelta > p.cfg.LimitByVersion {
		return true // over the limit: force a snapshot regardless of other gating
	}
	if p.cfg.LimitByElapsed > 0 && elapsed > p.cfg.LimitByElapsed {
		return true
	}

	triggered := false
	if p.cfg.TriggerByVersion > 0 && versionDelta >= p.cfg.TriggerByVersion {
		triggered = true
	}
	if p.cfg.TriggerByElapsed > 0 && elapsed >= p.cfg.TriggerByElapsed {
		triggered = true
	}
	if !triggered {
		return false
	}

	if p.cfg.MinVersionDelta > 0 && versionDelta < p.cfg.MinVersionDelta {
		return false
	}
	if p.cfg.MinElapsed > 0 && elapsed < p.cfg.MinElapsed {
		return false
	}
	return true
}

// RecordSnapshot updates the policy's bookkeeping after a snapshot write
// has succeeded. The coordinator calls it only on success, so after a
// failed write the next evaluation triggers again (spec §4.5 step 7).
func (p *Policy) RecordSnapshot(version uint64, at time.Time) {
	p.lastSnapshotVersion = version
	p.lastSnapshotAt = at
}

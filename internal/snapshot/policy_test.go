package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldSnapshotByVersionTrigger(t *testing.T) {
	p := New(PolicyConfig{TriggerByVersion: 10}, 0, time.Now())
	require.False(t, p.ShouldSnapshot(5, time.Now()))
	require.True(t, p.ShouldSnapshot(10, time.Now()))
}

func TestShouldSnapshotRespectsMinVersionDelta(t *testing.T) {
	p := New(PolicyConfig{TriggerByVersion: 1, MinVersionDelta: 5}, 0, time.Now())
	require.False(t, p.ShouldSnapshot(2, time.Now()))
	require.True(t, p.ShouldSnapshot(5, time.Now()))
}

func TestShouldSnapshotByElapsedTrigger(t *testing.T) {
	base := time.Now()
	p := New(PolicyConfig{TriggerByElapsed: time.Minute}, 0, base)
	require.False(t, p.ShouldSnapshot(1, base.Add(30*time.Second)))
	require.True(t, p.ShouldSnapshot(1, base.Add(2*time.Minute)))
}

func TestRecordSnapshotResetsWindow(t *testing.T) {
	base := time.Now()
	p := New(PolicyConfig{TriggerByVersion: 10}, 0, base)
	require.True(t, p.ShouldSnapshot(10, base))
	p.RecordSnapshot(10, base)
	require.False(t, p.ShouldSnapshot(15, base))
	require.True(t, p.ShouldSnapshot(20, base))
}

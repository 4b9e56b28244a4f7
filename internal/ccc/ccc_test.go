package ccc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rectcircle/convergence-server/internal/model"
)

func TestSubmitAndAck(t *testing.T) {
	c := New(1)
	c.Submit(model.StringInsertOp{Vid: "s1", Index: 0, Value: "X"})
	require.Len(t, c.Outgoing(), 1)
	require.Equal(t, uint64(1), c.ContextVersion())

	c.OnAck()
	require.Len(t, c.Outgoing(), 0)
	require.Equal(t, uint64(2), c.ContextVersion())
}

func TestOnRemoteTransformsOutgoing(t *testing.T) {
	c := New(1)
	c.Submit(model.StringInsertOp{Vid: "s1", Index: 1, Value: "Y"})

	remote := model.StringInsertOp{Vid: "s1", Index: 1, Value: "X"}
	applied := c.OnRemote(remote)

	appliedOp := applied.(model.StringInsertOp)
	require.Equal(t, 1, appliedOp.Index, "remote op arrived first so its own index is untouched by the pending local op in this direction")

	pending := c.Outgoing()[0].(model.StringInsertOp)
	require.Equal(t, 2, pending.Index, "pending local insert shifts past the now-applied remote insert")
	require.Equal(t, uint64(2), c.ContextVersion())
}

func TestOnRemoteNoOutgoing(t *testing.T) {
	c := New(3)
	remote := model.NumberAddOp{Vid: "n0", Value: 1}
	applied := c.OnRemote(remote)
	require.Equal(t, remote, applied)
	require.Equal(t, uint64(4), c.ContextVersion())
}

// Package vid implements value identifiers: stable, model-scoped ids for
// every node in a model's data value tree.
package vid

import "fmt"

// Origin distinguishes which side of a connection minted a value id.
type Origin byte

const (
	// Server is the origin prefix for ids minted by the coordinator itself.
	Server Origin = 's'
	// Client is the origin prefix for ids proposed by a client's cold-start
	// data response.
	Client Origin = 'c'
)

// ID is a value id: unique within a single model, stable for the lifetime
// of the node it identifies.
type ID string

// New formats a value id from an origin and a counter.
func New(origin Origin, counter uint64) ID {
	return ID(fmt.Sprintf("%c%d", origin, counter))
}

// Generator mints server-origin value ids for one model. It is owned
// exclusively by that model's coordinator; it is not safe for concurrent
// use from multiple goroutines.
type Generator struct {
	next uint64
}

// NewGenerator returns a Generator whose first minted id has the given
// counter value (callers restoring from a snapshot pass the highest
// counter observed in the tree so far, plus one).
func NewGenerator(startAt uint64) *Generator {
	return &Generator{next: startAt}
}

// Next mints and returns the next server-origin value id.
func (g *Generator) Next() ID {
	id := New(Server, g.next)
	g.next++
	return id
}

// Package graph captures the composition rules for wiring a pipeline:
// graph assembly is not a runtime component in its own right, but the
// ordering it requires (producers set up before consumers bind to them,
// producers started first for immediate back-pressure, reverse-creation-
// order cleanup) is easy to get backwards by hand. Graph is a thin,
// optional helper that applies that ordering for a linear or tree-shaped
// chain of stages, wiring components once and tearing them down in the
// same structured shape every time.
package graph

import (
	"fmt"

	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// edge records that consumer binds its input from producer's output.
type edge struct {
	consumer *stage.Stage
	producer *stage.Stage
}

// Graph accumulates stages in creation order and the edges between them,
// then applies the graph-assembly rules in the right order.
type Graph struct {
	stages []*stage.Stage
	edges  []edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// Add registers a stage with the graph. Stages must be added in the order
// they are created: cleanup runs in the reverse of this order.
func (g *Graph) Add(st *stage.Stage) *Graph {
	g.stages = append(g.stages, st)
	return g
}

// Bind records that consumer's input comes from producer's output. The
// actual BindInput call happens in Wire, after every stage in the graph
// has been set up — producer must already appear in the graph.
func (g *Graph) Bind(consumer, producer *stage.Stage) *Graph {
	g.edges = append(g.edges, edge{consumer: consumer, producer: producer})
	return g
}

// Wire applies every recorded edge by calling consumer.BindInput(producer).
// Edges are inert (warning, not failure) on tag mismatch, so Wire only
// fails if a producer was never added to the graph.
func (g *Graph) Wire() error {
	known := make(map[*stage.Stage]bool, len(g.stages))
	for _, st := range g.stages {
		known[st] = true
	}

	for _, e := range g.edges {
		if !known[e.producer] {
			return fmt.Errorf("graph: producer %s was not added to the graph", e.producer.Name())
		}
		if err := e.consumer.BindInput(e.producer); err != nil {
			return fmt.Errorf("graph: bind %s <- %s: %w", e.consumer.Name(), e.producer.Name(), err)
		}
	}
	return nil
}

// Start starts every stage in the order it was added — producers before
// consumers, so back-pressure applies immediately rather than consumers
// seeing an early empty read. If any Start fails, Start returns
// immediately without starting the remainder; the caller should still
// Join and Cleanup whatever did start.
func (g *Graph) Start() error {
	for _, st := range g.stages {
		if err := st.Start(); err != nil {
			return fmt.Errorf("graph: start %s: %w", st.Name(), err)
		}
	}
	return nil
}

// Join blocks until every stage's worker has returned. Order does not
// matter for correctness — each stage joins independently — but joining in
// creation order makes a hang easy to attribute to the first stage still
// blocked.
func (g *Graph) Join() {
	for _, st := range g.stages {
		st.Join()
	}
}

// Cleanup tears down every stage in the reverse of creation order, so a
// consumer (which may still reference a producer's output buffer through
// its own teardown path) is cleaned up before the producer that owns that
// buffer. It continues past individual failures and returns the first
// error encountered, if any.
func (g *Graph) Cleanup() error {
	var firstErr error
	for i := len(g.stages) - 1; i >= 0; i-- {
		if err := g.stages[i].Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stages returns the stages in creation order, for observability adaptors
// that want to enumerate the running graph.
func (g *Graph) Stages() []*stage.Stage {
	out := make([]*stage.Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

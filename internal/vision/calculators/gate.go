package calculators

import (
	"context"

	"github.com/banshee-data/facemesh/internal/vision/gate"
	"github.com/banshee-data/facemesh/internal/vision/graph"
)

// Gate passes VALUE through when ALLOW is true and leaves it absent
// otherwise. An absent ALLOW keeps the node from running, so the value is
// absent then too.
type Gate[T any] struct{}

func (Gate[T]) Kind() string { return KindGate }

func (Gate[T]) Inputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[T](TagValue), graph.Port[bool](TagAllow)}
}

func (Gate[T]) Outputs() []graph.PortSpec {
	return []graph.PortSpec{graph.Port[T](TagValue)}
}

func (Gate[T]) Process(_ context.Context, pc *graph.Context) error {
	v, _ := graph.Get[T](pc, TagValue)
	allow, _ := graph.Get[bool](pc, TagAllow)
	if out, ok := gate.AllowIf(gate.Some(v), allow).Get(); ok {
		graph.Set(pc, TagValue, out)
	}
	return nil
}

// AllowIf adds a Gate node that lets s through only when allow is true.
func AllowIf[T any](g *graph.Graph, s graph.Stream[T], allow graph.Stream[bool]) graph.Stream[T] {
	n := g.AddNode(Gate[T]{})
	graph.Connect(s, n, TagValue)
	graph.Connect(allow, n, TagAllow)
	return graph.Out[T](n, TagValue)
}

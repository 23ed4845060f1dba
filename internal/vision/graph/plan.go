package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/banshee-data/facemesh/internal/vision/gate"
)

var (
	// ErrMissingInput is returned by Run when a required graph input is absent.
	ErrMissingInput = errors.New("graph: missing required input")
	// ErrInputType is returned by Run when a graph input has the wrong type.
	ErrInputType = errors.New("graph: input type mismatch")
)

// Plan is a compiled, immutable graph. Run may be called concurrently.
type Plan struct {
	name    string
	order   []*Node
	streams []reflect.Type
	inputs  []graphPort
	outputs []graphPort
}

// Name returns the graph name the plan was compiled from.
func (p *Plan) Name() string { return p.name }

// NodeKinds lists the stage kinds in execution order.
func (p *Plan) NodeKinds() []string {
	kinds := make([]string, len(p.order))
	for i, n := range p.order {
		kinds[i] = n.stage.Kind()
	}
	return kinds
}

// Run executes one invocation. inputs maps graph input tags to values; a
// nil value counts as absent. A stage error aborts the invocation and is
// returned wrapped with the failing node's name.
func (p *Plan) Run(ctx context.Context, inputs map[string]any) (*Result, error) {
	packets := make([]packet, len(p.streams))

	known := make(map[string]bool, len(p.inputs))
	for _, in := range p.inputs {
		known[in.tag] = true
		v, ok := inputs[in.tag]
		if !ok || v == nil {
			if !in.optional {
				return nil, fmt.Errorf("%w: %s: %q", ErrMissingInput, p.name, in.tag)
			}
			continue
		}
		want := p.streams[in.stream]
		if got := reflect.TypeOf(v); !got.AssignableTo(want) {
			return nil, fmt.Errorf("%w: %s: %q wants %v, got %v", ErrInputType, p.name, in.tag, want, got)
		}
		packets[in.stream] = packet{value: v, ok: true}
	}
	for tag := range inputs {
		if !known[tag] {
			return nil, fmt.Errorf("%w: %s has no input %q", ErrUnknownPort, p.name, tag)
		}
	}

	for _, n := range p.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !requiredPresent(n, packets) {
			tracef("%s: skipping %s, required input absent", p.name, n.Name())
			continue
		}
		pc := &Context{node: n, packets: packets}
		if err := n.stage.Process(ctx, pc); err != nil {
			opsf("%s: %s failed: %v", p.name, n.Name(), err)
			return nil, fmt.Errorf("%s: %s: %w", p.name, n.Name(), err)
		}
		if pc.err != nil {
			return nil, fmt.Errorf("%s: %s: %w", p.name, n.Name(), pc.err)
		}
	}

	res := &Result{values: make(map[string]packet, len(p.outputs))}
	for _, out := range p.outputs {
		res.values[out.tag] = packets[out.stream]
	}
	return res, nil
}

func requiredPresent(n *Node, packets []packet) bool {
	for tag, spec := range n.in {
		if spec.Optional {
			continue
		}
		if !packets[n.inputs[tag]].ok {
			return false
		}
	}
	return true
}

// Result holds the graph outputs of one invocation.
type Result struct {
	values map[string]packet
}

// Has reports whether output tag carries a value.
func (r *Result) Has(tag string) bool {
	return r.values[tag].ok
}

// Lookup returns output tag as an Optional. Reading an unknown tag or with
// the wrong type is an error; an absent value is not.
func Lookup[T any](r *Result, tag string) (gate.Optional[T], error) {
	p, ok := r.values[tag]
	if !ok {
		return gate.None[T](), fmt.Errorf("%w: no graph output %q", ErrUnknownPort, tag)
	}
	if !p.ok {
		return gate.None[T](), nil
	}
	v, ok := p.value.(T)
	if !ok {
		return gate.None[T](), fmt.Errorf("%w: output %q holds %T, read as %v",
			ErrPortType, tag, p.value, typeOf[T]())
	}
	return gate.Some(v), nil
}

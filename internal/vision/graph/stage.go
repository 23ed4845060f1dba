package graph

import (
	"context"
	"fmt"
	"reflect"
)

// PortSpec declares one named, typed port of a stage.
type PortSpec struct {
	Tag      string
	Type     reflect.Type
	Optional bool
}

// Port declares a required port carrying T.
func Port[T any](tag string) PortSpec {
	return PortSpec{Tag: tag, Type: typeOf[T]()}
}

// OptionalPort declares an input port carrying T that may be left
// unconnected or receive no value for an invocation.
func OptionalPort[T any](tag string) PortSpec {
	return PortSpec{Tag: tag, Type: typeOf[T](), Optional: true}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Stage is an opaque processing unit. Implementations must be safe for
// concurrent Process calls: all per-invocation state lives in the Context.
type Stage interface {
	// Kind names the stage variant, e.g. "ThresholdingCalculator".
	Kind() string
	// Inputs declares the input ports. The set is fixed for the stage's lifetime.
	Inputs() []PortSpec
	// Outputs declares the output ports.
	Outputs() []PortSpec
	// Process reads inputs from pc and writes outputs to it. Outputs left
	// unset are absent for this invocation.
	Process(ctx context.Context, pc *Context) error
}

type packet struct {
	value any
	ok    bool
}

// Context exposes one invocation's packets to a single node.
type Context struct {
	node    *Node
	packets []packet
	err     error
}

// Get returns the value on input port tag and whether it is present.
func Get[T any](pc *Context, tag string) (T, bool) {
	var zero T
	id, ok := pc.node.inputs[tag]
	if !ok {
		return zero, false
	}
	p := pc.packets[id]
	if !p.ok {
		return zero, false
	}
	v, ok := p.value.(T)
	if !ok {
		pc.fail(fmt.Errorf("%w: input %q holds %T, read as %v",
			ErrPortType, tag, p.value, typeOf[T]()))
		return zero, false
	}
	return v, true
}

// Set emits v on output port tag. Emitting on an output that nothing
// consumes is allowed and discarded.
func Set[T any](pc *Context, tag string, v T) {
	spec, ok := pc.node.out[tag]
	if !ok {
		pc.fail(fmt.Errorf("%w: %s has no output %q", ErrUnknownPort, pc.node.Name(), tag))
		return
	}
	if spec.Type != typeOf[T]() {
		pc.fail(fmt.Errorf("%w: output %q declared %v, set as %v",
			ErrPortType, tag, spec.Type, typeOf[T]()))
		return
	}
	id, ok := pc.node.outputs[tag]
	if !ok {
		return
	}
	pc.packets[id] = packet{value: v, ok: true}
}

func (pc *Context) fail(err error) {
	if pc.err == nil {
		pc.err = err
	}
}

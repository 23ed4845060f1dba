package graph

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

var (
	// ErrComposition wraps every assembly-time failure reported by Compile.
	ErrComposition = errors.New("graph: invalid composition")
	// ErrPortType reports a stream connected to a port of a different type.
	ErrPortType = errors.New("graph: port type mismatch")
	// ErrUnknownPort reports a tag the stage does not declare.
	ErrUnknownPort = errors.New("graph: unknown port")
	// ErrUnconnected reports a required input port with no stream.
	ErrUnconnected = errors.New("graph: required input not connected")
	// ErrCycle reports a graph whose nodes cannot be ordered.
	ErrCycle = errors.New("graph: cycle detected")
	// ErrDuplicatePort reports a port or graph tag bound twice.
	ErrDuplicatePort = errors.New("graph: port already bound")
)

type streamInfo struct {
	id       int
	name     string
	typ      reflect.Type
	producer *Node
}

type graphPort struct {
	tag      string
	stream   int
	optional bool
}

// Graph is an assembly-time builder. It is not safe for concurrent use;
// compile it into a Plan before running.
type Graph struct {
	name    string
	nodes   []*Node
	streams []*streamInfo
	inputs  []graphPort
	outputs []graphPort
	errs    []error
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Node is a stage instance inside a graph.
type Node struct {
	g       *Graph
	id      int
	stage   Stage
	in      map[string]PortSpec
	out     map[string]PortSpec
	inputs  map[string]int
	outputs map[string]int
}

// Name identifies the node in errors and logs.
func (n *Node) Name() string {
	return fmt.Sprintf("%s#%d", n.stage.Kind(), n.id)
}

// Stage returns the node's stage.
func (n *Node) Stage() Stage { return n.stage }

// Stream is a typed handle to a data channel of the graph. The zero Stream
// is invalid; connecting it is an assembly error.
type Stream[T any] struct {
	g  *Graph
	id int
}

// Valid reports whether s refers to a stream.
func (s Stream[T]) Valid() bool { return s.g != nil }

func (g *Graph) errorf(format string, args ...any) {
	g.errs = append(g.errs, fmt.Errorf(format, args...))
}

func (g *Graph) newStream(name string, typ reflect.Type, producer *Node) int {
	id := len(g.streams)
	g.streams = append(g.streams, &streamInfo{id: id, name: name, typ: typ, producer: producer})
	return id
}

func (g *Graph) hasInput(tag string) bool {
	for _, p := range g.inputs {
		if p.tag == tag {
			return true
		}
	}
	return false
}

func addInput[T any](g *Graph, tag string, optional bool) Stream[T] {
	if g.hasInput(tag) {
		g.errorf("%w: graph input %q", ErrDuplicatePort, tag)
		return Stream[T]{}
	}
	id := g.newStream("in:"+tag, typeOf[T](), nil)
	g.inputs = append(g.inputs, graphPort{tag: tag, stream: id, optional: optional})
	return Stream[T]{g: g, id: id}
}

// Input declares a required graph input carrying T.
func Input[T any](g *Graph, tag string) Stream[T] {
	return addInput[T](g, tag, false)
}

// OptionalInput declares a graph input that callers may omit.
func OptionalInput[T any](g *Graph, tag string) Stream[T] {
	return addInput[T](g, tag, true)
}

// AddNode registers stage as a new node. Malformed port declarations are
// recorded and reported by Compile.
func (g *Graph) AddNode(stage Stage) *Node {
	n := &Node{
		g:       g,
		id:      len(g.nodes),
		stage:   stage,
		in:      make(map[string]PortSpec),
		out:     make(map[string]PortSpec),
		inputs:  make(map[string]int),
		outputs: make(map[string]int),
	}
	for _, p := range stage.Inputs() {
		if _, dup := n.in[p.Tag]; dup || p.Type == nil {
			g.errorf("%w: %s declares input %q twice or without a type", ErrDuplicatePort, n.Name(), p.Tag)
			continue
		}
		n.in[p.Tag] = p
	}
	for _, p := range stage.Outputs() {
		if _, dup := n.out[p.Tag]; dup || p.Type == nil {
			g.errorf("%w: %s declares output %q twice or without a type", ErrDuplicatePort, n.Name(), p.Tag)
			continue
		}
		n.out[p.Tag] = p
	}
	g.nodes = append(g.nodes, n)
	return n
}

// Connect binds s to input port tag of n.
func Connect[T any](s Stream[T], n *Node, tag string) {
	g := n.g
	if !s.Valid() {
		g.errorf("%w: invalid stream for %s input %q", ErrUnconnected, n.Name(), tag)
		return
	}
	if s.g != g {
		g.errorf("%w: stream from graph %q connected into graph %q", ErrComposition, s.g.name, g.name)
		return
	}
	spec, ok := n.in[tag]
	if !ok {
		g.errorf("%w: %s has no input %q", ErrUnknownPort, n.Name(), tag)
		return
	}
	if _, bound := n.inputs[tag]; bound {
		g.errorf("%w: %s input %q", ErrDuplicatePort, n.Name(), tag)
		return
	}
	if got := g.streams[s.id].typ; got != spec.Type {
		g.errorf("%w: %s input %q wants %v, stream %q carries %v",
			ErrPortType, n.Name(), tag, spec.Type, g.streams[s.id].name, got)
		return
	}
	n.inputs[tag] = s.id
}

// Out returns the stream produced on output port tag of n. Repeated calls
// return the same stream.
func Out[T any](n *Node, tag string) Stream[T] {
	g := n.g
	spec, ok := n.out[tag]
	if !ok {
		g.errorf("%w: %s has no output %q", ErrUnknownPort, n.Name(), tag)
		return Stream[T]{}
	}
	if want := typeOf[T](); spec.Type != want {
		g.errorf("%w: %s output %q declared %v, requested as %v",
			ErrPortType, n.Name(), tag, spec.Type, want)
		return Stream[T]{}
	}
	if id, ok := n.outputs[tag]; ok {
		return Stream[T]{g: g, id: id}
	}
	id := g.newStream(fmt.Sprintf("%s:%s", n.Name(), tag), spec.Type, n)
	n.outputs[tag] = id
	return Stream[T]{g: g, id: id}
}

// SetOutput exposes s as graph output tag.
func SetOutput[T any](g *Graph, tag string, s Stream[T]) {
	if !s.Valid() || s.g != g {
		g.errorf("%w: graph output %q bound to an invalid stream", ErrUnconnected, tag)
		return
	}
	for _, p := range g.outputs {
		if p.tag == tag {
			g.errorf("%w: graph output %q", ErrDuplicatePort, tag)
			return
		}
	}
	g.outputs = append(g.outputs, graphPort{tag: tag, stream: s.id})
}

// Compile validates the graph and freezes it into a Plan. All assembly
// errors are reported together, wrapped in ErrComposition.
func (g *Graph) Compile() (*Plan, error) {
	errs := append([]error(nil), g.errs...)
	for _, n := range g.nodes {
		for tag, spec := range n.in {
			if _, ok := n.inputs[tag]; !ok && !spec.Optional {
				errs = append(errs, fmt.Errorf("%w: %s input %q", ErrUnconnected, n.Name(), tag))
			}
		}
	}
	if len(g.outputs) == 0 {
		errs = append(errs, fmt.Errorf("%w: graph %q has no outputs", ErrUnconnected, g.name))
	}
	order, err := g.topoOrder()
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		sortErrors(errs)
		return nil, fmt.Errorf("%w: %s: %w", ErrComposition, g.name, errors.Join(errs...))
	}

	p := &Plan{
		name:    g.name,
		order:   order,
		streams: make([]reflect.Type, len(g.streams)),
		inputs:  append([]graphPort(nil), g.inputs...),
		outputs: append([]graphPort(nil), g.outputs...),
	}
	for i, s := range g.streams {
		p.streams[i] = s.typ
	}
	diagf("compiled %s", g.Describe())
	return p, nil
}

// topoOrder orders nodes so every producer precedes its consumers, keeping
// insertion order among independent nodes.
func (g *Graph) topoOrder() ([]*Node, error) {
	indeg := make([]int, len(g.nodes))
	consumers := make([][]int, len(g.nodes))
	for _, n := range g.nodes {
		seen := make(map[int]bool)
		for _, sid := range n.inputs {
			prod := g.streams[sid].producer
			if prod == nil || seen[prod.id] {
				continue
			}
			seen[prod.id] = true
			indeg[n.id]++
			consumers[prod.id] = append(consumers[prod.id], n.id)
		}
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.nodes[id])
		for _, c := range consumers[id] {
			indeg[c]--
			if indeg[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(g.nodes) {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, g.nodes[i].Name())
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// Describe renders the node list with its wiring, one node per line.
func (g *Graph) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "graph %q: %d nodes, %d streams", g.name, len(g.nodes), len(g.streams))
	for _, n := range g.nodes {
		tags := make([]string, 0, len(n.inputs))
		for tag := range n.inputs {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		ins := make([]string, 0, len(tags))
		for _, tag := range tags {
			ins = append(ins, fmt.Sprintf("%s<-%s", tag, g.streams[n.inputs[tag]].name))
		}
		fmt.Fprintf(&b, "\n  %s [%s]", n.Name(), strings.Join(ins, " "))
	}
	return b.String()
}

func sortErrors(errs []error) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}

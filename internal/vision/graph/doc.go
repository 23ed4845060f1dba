// Package graph assembles typed processing stages into an acyclic data-flow
// graph and executes it one invocation at a time.
//
// Assembly happens once: stages are added as nodes, typed streams are
// connected to named ports, and Compile validates the topology (port
// types, unconnected required inputs, unbound outputs, cycles) before any
// frame is processed. The resulting Plan is immutable and may run
// concurrently from many goroutines.
//
// Absence is part of the model: a stage may leave an output unset, and a
// node whose required input is absent is skipped, leaving its own outputs
// absent. Graph outputs surface absence as gate.Optional values.
package graph

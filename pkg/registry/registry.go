// Package registry holds the static catalogue of remote worker nodes the
// placement engine can dispatch to. It answers capability queries; it does
// not probe, heartbeat, or otherwise mutate node state (spec §4.1).
package registry

import "github.com/cuemby/fogdispatch/pkg/types"

// Registry is a read-only catalogue of node descriptors, built once at
// construction and never mutated afterward.
type Registry struct {
	nodes []types.NodeDescriptor
}

// New builds a Registry from a list of node descriptors, preserving the
// order given -- that order is the "registration order" spec §4.1's
// queries are defined to be stable against.
func New(nodes []types.NodeDescriptor) *Registry {
	cp := make([]types.NodeDescriptor, len(nodes))
	copy(cp, nodes)
	return &Registry{nodes: cp}
}

// NodesFitting returns every active descriptor whose advertised capacity is
// at least the requested estimate in each dimension, in registration order.
func (r *Registry) NodesFitting(est types.ResourceEstimate) []types.NodeDescriptor {
	var out []types.NodeDescriptor
	for _, n := range r.nodes {
		if n.Active && est.Fits(n.Capacity()) {
			out = append(out, n)
		}
	}
	return out
}

// AllActive returns every descriptor with the active flag set, in
// registration order.
func (r *Registry) AllActive() []types.NodeDescriptor {
	var out []types.NodeDescriptor
	for _, n := range r.nodes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the total number of registered descriptors, active or not.
func (r *Registry) Len() int {
	return len(r.nodes)
}

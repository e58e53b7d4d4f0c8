// Package placement implements the decision procedure from spec §4.3: for
// each Scheduling task, choose to run it locally, on a single remote node,
// split across several remote nodes, or reject it outright.
package placement

import (
	"sort"

	"github.com/cuemby/fogdispatch/pkg/ledger"
	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/registry"
	"github.com/cuemby/fogdispatch/pkg/types"
	"github.com/rs/zerolog"
)

// Kind distinguishes the four possible outcomes of a placement decision.
type Kind int

const (
	Local Kind = iota
	Remote
	Split
	Reject
)

// Plan is the placement engine's decision for one task.
type Plan struct {
	Kind  Kind
	Nodes []types.NodeDescriptor // one entry for Remote, >=1 for Split, none for Local/Reject
}

// Engine chooses where a task should run. It does not itself reserve
// ledger capacity for a Local plan; the caller (the engine package) does
// that once it commits to the plan, keeping the fit-check here and the
// reservation in one place that also owns rollback on a later failure.
type Engine struct {
	ledger   *ledger.Ledger
	registry *registry.Registry
	logger   zerolog.Logger
}

// New builds a placement Engine over the given ledger and node registry.
func New(l *ledger.Ledger, r *registry.Registry) *Engine {
	return &Engine{
		ledger:   l,
		registry: r,
		logger:   log.WithComponent("placement"),
	}
}

// Place runs the decision procedure from spec §4.3, in order: local fit,
// single-remote fit, split (if divisible), reject.
func (e *Engine) Place(task *types.Task) Plan {
	if e.ledger.Fits(task.Estimate) {
		e.logger.Debug().Str("task_id", task.ID).Msg("placement: local fit")
		metrics.PlacementsTotal.WithLabelValues("local").Inc()
		return Plan{Kind: Local}
	}

	if nodes := e.registry.NodesFitting(task.Estimate); len(nodes) > 0 {
		e.logger.Debug().Str("task_id", task.ID).Str("node_id", nodes[0].ID).Msg("placement: single remote fit")
		metrics.PlacementsTotal.WithLabelValues("remote").Inc()
		return Plan{Kind: Remote, Nodes: nodes[:1]}
	}

	if task.IsDivisible {
		if chosen, ok := e.splitSelection(task.Estimate); ok {
			e.logger.Debug().Str("task_id", task.ID).Int("shards", len(chosen)).Msg("placement: split")
			metrics.PlacementsTotal.WithLabelValues("split").Inc()
			return Plan{Kind: Split, Nodes: chosen}
		}
	}

	e.logger.Warn().Str("task_id", task.ID).Msg("placement: no viable plan")
	metrics.PlacementsTotal.WithLabelValues("rejected").Inc()
	return Plan{Kind: Reject}
}

// splitSelection implements spec §4.3 step 3: sort all active nodes by
// cpu+ram descending (registry order breaks ties), then greedily take
// nodes from the head of that list until the remaining requirement in
// every dimension is satisfied.
func (e *Engine) splitSelection(est types.ResourceEstimate) ([]types.NodeDescriptor, bool) {
	nodes := e.registry.AllActive()
	if len(nodes) == 0 {
		return nil, false
	}

	sorted := make([]types.NodeDescriptor, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return (sorted[i].CPU + sorted[i].RAM) > (sorted[j].CPU + sorted[j].RAM)
	})

	var sumCPU, sumRAM, sumGPU float64
	for _, n := range sorted {
		sumCPU += n.CPU
		sumRAM += n.RAM
		sumGPU += n.GPU
	}
	if sumCPU < est.CPU || sumRAM < est.RAM || sumGPU < est.GPU {
		return nil, false
	}

	remaining := est
	var chosen []types.NodeDescriptor
	for _, n := range sorted {
		chosen = append(chosen, n)
		remaining.CPU -= n.CPU
		remaining.RAM -= n.RAM
		remaining.GPU -= n.GPU
		if remaining.CPU <= 0 && remaining.RAM <= 0 && remaining.GPU <= 0 {
			break
		}
	}
	return chosen, true
}

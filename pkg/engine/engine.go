// Package engine is the dispatcher core: the admission queue, the task
// map, and the dispatcher loop that drains one into placement decisions
// under a concurrency cap, per spec §4.6 and §5.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuemby/fogdispatch/pkg/catalog"
	"github.com/cuemby/fogdispatch/pkg/dispatch"
	"github.com/cuemby/fogdispatch/pkg/ledger"
	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/placement"
	"github.com/cuemby/fogdispatch/pkg/registry"
	"github.com/cuemby/fogdispatch/pkg/runtime"
	"github.com/cuemby/fogdispatch/pkg/types"
	"github.com/rs/zerolog"
)

// pollInterval is the dispatcher's fallback sleep between queue checks when
// nothing else woke it, per spec §4.6 ("sleep briefly, ~100ms").
const pollInterval = 100 * time.Millisecond

// backoffInterval is the sleep after an iteration panics, per spec §4.6
// ("sleeps longer, ~1s, and continues").
const backoffInterval = 1 * time.Second

// Config bundles everything the engine needs at construction: the local
// resource ceiling, the static node registry, the concurrency cap, and the
// scratch directory local containers mount their input/output through.
type Config struct {
	LedgerCapacity     types.ResourceEstimate
	Nodes              []types.NodeDescriptor
	MaxConcurrentTasks int
	ScratchRoot        string
	ExtraImages        map[string]string
	ExtraCombiners     map[string]catalog.Combiner
}

// Engine owns the admission queue, the task map, the resource ledger, and
// the dispatcher loop. One mutex guards the queue, the task map, every task
// record's mutable fields, the ledger, and the in-flight counter together
// (spec §5's single coarse-grained mutex option, matching the teacher's
// manager pattern). Placement itself only ever runs on the dispatcher
// loop's own goroutine, so registry queries need no additional
// synchronization beyond that single-goroutine discipline. The ledger's
// counters, though, are read from Place (via Ledger.Fits) and written from
// both Reserve and Release, and Release runs on a pool worker goroutine
// concurrently with the next placement decision -- every one of those
// accesses goes through placeAndReserve or releaseLedger, which hold e.mu
// for the duration of the call.
type Engine struct {
	mu       sync.Mutex
	queue    []string
	tasks    map[string]*types.Task
	inFlight int

	ledger   *ledger.Ledger
	registry *registry.Registry
	placer   *placement.Engine
	images   *catalog.ImageCatalog
	combines *catalog.CombinerCatalog

	runtime  runtime.Runtime
	dispatch *dispatch.Client

	scratchRoot string
	maxInFlight int
	pool        *semaphore.Weighted

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// New constructs an Engine. rt and dc are injected capabilities (teacher's
// "inject the container client at construction" design note) so tests
// substitute a FakeRuntime and an httptest-backed dispatch client.
func New(cfg Config, rt runtime.Runtime, dc *dispatch.Client) *Engine {
	l := ledger.New(cfg.LedgerCapacity)
	r := registry.New(cfg.Nodes)

	maxInFlight := cfg.MaxConcurrentTasks
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	return &Engine{
		queue:       make([]string, 0),
		tasks:       make(map[string]*types.Task),
		ledger:      l,
		registry:    r,
		placer:      placement.New(l, r),
		images:      catalog.NewImageCatalog(cfg.ExtraImages),
		combines:    catalog.NewCombinerCatalog(cfg.ExtraCombiners),
		runtime:     rt,
		dispatch:    dc,
		scratchRoot: cfg.ScratchRoot,
		maxInFlight: maxInFlight,
		pool:        semaphore.NewWeighted(int64(maxInFlight)),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		logger:      log.WithComponent("engine"),
	}
}

// Start launches the dispatcher loop in the background.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.dispatchLoop()
}

// Stop signals the dispatcher loop to exit and waits for it to do so. It
// does not cancel in-flight task executions (spec §5: no graceful
// shutdown is specified for those).
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// Submit enqueues a fully-constructed task and returns its identifier
// immediately, per spec §6. It never blocks on execution.
func (e *Engine) Submit(task *types.Task) string {
	e.mu.Lock()
	e.tasks[task.ID] = task
	e.queue = append(e.queue, task.ID)
	e.mu.Unlock()

	e.logger.Info().Str("task_id", task.ID).Str("task_type", task.TaskType).Msg("task submitted")

	e.notify()

	return task.ID
}

// Status returns a snapshot of the task record, or (nil, false) if the
// identifier is unknown -- spec §7's "not found is not exceptional" rule.
func (e *Engine) Status(taskID string) (*types.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return nil, false
	}
	snapshot := *task
	return &snapshot, true
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop drains the admission queue into the placement engine under
// the concurrency cap, per spec §4.6. It wakes on submission via e.wake and
// falls back to pollInterval so a freed pool slot is noticed promptly.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
			e.runIteration()
		case <-ticker.C:
			e.runIteration()
		}
	}
}

// runIteration pops at most one ready task, makes its placement decision,
// and hands the resulting plan to a pool worker for execution. Placement
// (and the ledger reservation it triggers) runs here, on the dispatcher's
// single goroutine, never inside a worker -- that is what keeps the
// registry safe without its own locking. The ledger is shared with the
// workers' releases, so it is guarded by e.mu through placeAndReserve and
// releaseLedger. A panic escaping this
// function is caught and logged, matching spec §4.6's "any exception
// escaping the iteration is logged".
func (e *Engine) runIteration() {
	// task, localReserved and handedOff let the deferred recover below undo
	// exactly the bookkeeping claimNext/placeAndReserve already committed if
	// a panic escapes somewhere in between -- once the worker goroutine is
	// spawned, retire's own recover takes over and handedOff stops this one
	// from double-releasing the pool slot or the in-flight counter.
	var task *types.Task
	var localReserved, handedOff bool

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("dispatcher iteration panicked")
			if task != nil && !handedOff {
				e.abortClaim(task, localReserved, types.NewTaskError(types.ErrInternal, fmt.Sprintf("panic during placement: %v", r), nil))
			}
			time.Sleep(backoffInterval)
		}
	}()

	t, acquired, ok := e.claimNext()
	if !ok {
		return
	}
	if !acquired {
		// Queue has ready work but the pool is full. Do not self-notify --
		// that would spin the loop at full CPU until a slot frees. The next
		// pollInterval tick retries claimNext instead.
		return
	}
	task = t

	timer := metrics.NewTimer()
	plan := e.placeAndReserve(task)
	timer.ObserveDuration(metrics.PlacementDuration)
	if plan.Kind == placement.Local {
		localReserved = true
	}

	if plan.Kind == placement.Reject {
		e.abortClaim(task, localReserved, types.NewTaskError(types.ErrNoPlacement, "no local or remote plan fits the task's resource estimate", nil))
		e.notify()
		return
	}

	e.markRunning(task, plan)

	e.wg.Add(1)
	handedOff = true
	go func() {
		defer e.wg.Done()
		defer e.pool.Release(1)
		defer e.retire(task)
		e.runPlan(task, plan)
	}()

	// There may be more ready work; wake the loop again immediately.
	e.notify()
}

// claimNext pops the queue head if one exists and a pool slot is free. The
// returned bool ok is false only when the queue is empty; acquired is
// false when the queue had work but no slot was available (the task stays
// popped's position is preserved by leaving it in the queue -- claimNext
// peeks before popping).
func (e *Engine) claimNext() (task *types.Task, acquired bool, ok bool) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil, false, false
	}
	id := e.queue[0]
	e.mu.Unlock()

	if !e.pool.TryAcquire(1) {
		return nil, false, true
	}

	e.mu.Lock()
	e.queue = e.queue[1:]
	task = e.tasks[id]
	task.Status = types.TaskScheduling
	e.inFlight++
	metrics.InFlightTasks.Set(float64(e.inFlight))
	e.mu.Unlock()

	return task, true, true
}

// markRunning transitions task to Running and records its assigned nodes,
// under the shared mutex so a concurrent Status() call never observes a
// torn write.
func (e *Engine) markRunning(task *types.Task, plan placement.Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	task.Status = types.TaskRunning
	switch plan.Kind {
	case placement.Remote:
		task.AssignedNodes = []string{plan.Nodes[0].ID}
	case placement.Split:
		ids := make([]string, len(plan.Nodes))
		for i, n := range plan.Nodes {
			ids[i] = n.ID
		}
		task.AssignedNodes = ids
	}
}

// runPlan runs the execution for an already-placed, already-Running task.
func (e *Engine) runPlan(task *types.Task, plan placement.Plan) {
	switch plan.Kind {
	case placement.Local:
		e.runLocal(task)
	case placement.Remote:
		e.runRemote(task, plan.Nodes[0])
	case placement.Split:
		e.runSplit(task, plan.Nodes)
	default:
		e.fail(task, types.NewTaskError(types.ErrInternal, fmt.Sprintf("unknown placement kind %v", plan.Kind), nil))
	}
}

// complete records a successful result and transitions the task to
// Completed, under the shared mutex. Per spec §5, the result write is
// ordered before the status write so a concurrent reader never observes
// Completed with no result.
func (e *Engine) complete(task *types.Task, result any) {
	e.mu.Lock()
	task.Result = result
	task.Status = types.TaskCompleted
	e.mu.Unlock()

	metrics.TasksTotal.WithLabelValues(string(types.TaskCompleted)).Inc()
	e.logger.Info().Str("task_id", task.ID).Msg("task completed")
}

// fail records a TaskError and transitions the task to Failed, under the
// shared mutex.
func (e *Engine) fail(task *types.Task, taskErr *types.TaskError) {
	e.mu.Lock()
	task.Err = taskErr
	task.Status = types.TaskFailed
	e.mu.Unlock()

	metrics.TasksTotal.WithLabelValues(string(types.TaskFailed)).Inc()

	level := e.logger.Warn()
	if taskErr.Kind == types.ErrInternal {
		level = e.logger.Error()
	}
	level.Str("task_id", task.ID).Str("error_kind", string(taskErr.Kind)).Msg(taskErr.Message)
}

// placeAndReserve runs the placement decision and, for a Local plan, the
// ledger reservation it entails, as one atomic step under e.mu. Place
// itself reads l.available via Ledger.Fits, and a pool worker can be
// concurrently releasing a previous task's reservation (releaseLedger)
// while this runs -- so the read inside Place, not just the Reserve call,
// must be inside the critical section, not just serialized against other
// Reserve calls by single-goroutine placement discipline alone.
func (e *Engine) placeAndReserve(task *types.Task) placement.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()

	plan := e.placer.Place(task)
	if plan.Kind == placement.Local {
		e.ledger.Reserve(task.Estimate)
	}
	return plan
}

// releaseLedger is the only call site allowed to release ledger capacity.
// It runs on a pool worker goroutine once a local task's execution ends,
// concurrently with the dispatcher loop's placeAndReserve for other tasks,
// so it takes e.mu for the duration of the call -- the same mutex spec §5
// names for "resource ledger and in-flight counter."
func (e *Engine) releaseLedger(est types.ResourceEstimate) {
	e.mu.Lock()
	e.ledger.Release(est)
	e.mu.Unlock()
}

// abortClaim undoes everything claimNext/placeAndReserve committed for a
// task that will never reach a worker goroutine -- a rejected plan or a
// panic before hand-off -- and fails it with taskErr. Used by runIteration
// at both call sites so the release/decrement/fail sequence can't drift
// out of sync between them.
func (e *Engine) abortClaim(task *types.Task, localReserved bool, taskErr *types.TaskError) {
	if localReserved {
		e.releaseLedger(task.Estimate)
	}
	e.pool.Release(1)
	e.decrementInFlight()
	e.fail(task, taskErr)
}

func (e *Engine) decrementInFlight() {
	e.mu.Lock()
	e.inFlight--
	metrics.InFlightTasks.Set(float64(e.inFlight))
	e.mu.Unlock()
}

// retire decrements the in-flight counter exactly once per executed task,
// regardless of outcome, keeping property 2 from spec §8 (no task stranded
// in Scheduling/Running after its worker exits). It also recovers a panic
// escaping the plan execution, converting it to a Failed transition.
func (e *Engine) retire(task *types.Task) {
	if r := recover(); r != nil {
		e.logger.Error().Interface("panic", r).Str("task_id", task.ID).Msg("task execution panicked")
		e.mu.Lock()
		task.Err = types.NewTaskError(types.ErrInternal, fmt.Sprintf("panic during execution: %v", r), nil)
		task.Status = types.TaskFailed
		e.mu.Unlock()
		metrics.TasksTotal.WithLabelValues(string(types.TaskFailed)).Inc()
	}

	e.decrementInFlight()
}

// execContext bounds a local container's wait deadline to the task's
// declared max execution time -- there's no transport leg to pad for.
func (e *Engine) execContext(task *types.Task) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), task.MaxExecTime())
}

// remoteExecContext bounds a dispatch.Client.Dispatch call for remote or
// split execution. It must already include dispatch.ExtraTimeout: Dispatch
// derives its own request deadline from this context's parent via
// context.WithTimeout, which can only narrow a deadline, never extend it,
// so a plain execContext(task) parent would silently clamp away the
// transport allowance spec.md requires ("max_execution_time + 10 seconds").
func (e *Engine) remoteExecContext(task *types.Task) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), task.MaxExecTime()+dispatch.ExtraTimeout)
}

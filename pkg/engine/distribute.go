package engine

import (
	"fmt"
	"sync"

	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/types"
)

// shardOutcome is one subtask's dispatch result, collected by index so the
// combine step never depends on completion order.
type shardOutcome struct {
	result any
	err    error
	kind   types.ErrorKind
}

// runSplit partitions a divisible task's input across the chosen nodes,
// dispatches every shard concurrently, and combines the results, per spec
// §4.5.3.
func (e *Engine) runSplit(task *types.Task, nodes []types.NodeDescriptor) {
	logger := log.WithTaskID(task.ID).With().Str("component", "engine.split").Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ExecutionDuration, "split")

	n := len(nodes)
	chunks := partitionPayload(task.Input, n)

	outcomes := make([]shardOutcome, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		node := nodes[i]
		chunk := chunks[i]

		go func() {
			defer wg.Done()

			payload := types.SubtaskPayload{
				TaskID:         fmt.Sprintf("%s-%d", task.ID, i),
				TaskType:       task.TaskType,
				InputData:      chunk.Map(),
				DockerImage:    e.images.ImageFor(task.TaskType),
				MaxExecSeconds: task.MaxExecSeconds,
			}

			ctx, cancel := e.remoteExecContext(task)
			defer cancel()

			resp, err := e.dispatch.Dispatch(ctx, node, payload)
			if err != nil {
				metrics.RemoteDispatchErrors.WithLabelValues("transport").Inc()
				outcomes[i] = shardOutcome{err: err, kind: types.ErrRemoteHTTPError}
				return
			}
			if resp.Status != "Completed" {
				metrics.RemoteDispatchErrors.WithLabelValues("reported_failure").Inc()
				outcomes[i] = shardOutcome{
					err:  fmt.Errorf("shard %d reported failure: %s", i, resp.Error),
					kind: types.ErrRemoteReportedFailed,
				}
				return
			}
			outcomes[i] = shardOutcome{result: resp.Results}
		}()
	}

	wg.Wait()

	shardResults := make([]any, n)
	for i, o := range outcomes {
		if o.err != nil {
			logger.Warn().Err(o.err).Int("shard", i).Msg("subtask failed")
			e.fail(task, types.NewTaskError(o.kind, o.err.Error(), o.err))
			return
		}
		shardResults[i] = o.result
	}

	combiner := e.combines.CombinerFor(task.TaskType)
	combined, err := combiner(shardResults)
	if err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "combiner failed", err))
		return
	}

	e.complete(task, combined)
}

// partitionPayload splits p into n contiguous chunks of size len(p)/n, the
// final chunk absorbing the remainder, per spec §4.5.3 step 1.
func partitionPayload(p types.Payload, n int) []types.Payload {
	chunks := make([]types.Payload, n)
	size := len(p) / n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i == n-1 {
			end = len(p)
		}
		chunks[i] = p.Chunk(start, end)
		start = end
	}
	return chunks
}

package engine

import (
	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/types"
)

// runRemote dispatches a task, divisible or not, to a single remote node,
// per spec §4.5.2.
func (e *Engine) runRemote(task *types.Task, node types.NodeDescriptor) {
	logger := log.WithTaskID(task.ID).With().Str("component", "engine.remote").Str("node_id", node.ID).Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ExecutionDuration, "remote")

	payload := types.SubtaskPayload{
		TaskID:         task.ID,
		TaskType:       task.TaskType,
		InputData:      task.InputValue(),
		DockerImage:    e.images.ImageFor(task.TaskType),
		MaxExecSeconds: task.MaxExecSeconds,
	}

	ctx, cancel := e.remoteExecContext(task)
	defer cancel()

	resp, err := e.dispatch.Dispatch(ctx, node, payload)
	if err != nil {
		metrics.RemoteDispatchErrors.WithLabelValues("transport").Inc()
		logger.Warn().Err(err).Msg("remote dispatch failed")
		e.fail(task, types.NewTaskError(types.ErrRemoteHTTPError, err.Error(), err))
		return
	}

	if resp.Status != "Completed" {
		metrics.RemoteDispatchErrors.WithLabelValues("reported_failure").Inc()
		e.fail(task, types.NewTaskError(types.ErrRemoteReportedFailed, resp.Error, nil))
		return
	}

	e.complete(task, resp.Results)
}

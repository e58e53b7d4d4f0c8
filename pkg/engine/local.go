package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/fogdispatch/pkg/log"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/runtime"
	"github.com/cuemby/fogdispatch/pkg/types"
)

const (
	containerMountPoint = "/data"
	containerInputPath  = containerMountPoint + "/input.json"
	containerOutputPath = containerMountPoint + "/output.json"
)

// runLocal executes a locally-placed task end to end: scratch area,
// container launch, wait, output parsing, and unconditional cleanup, per
// spec §4.5.1. The ledger reservation for this task was already taken by
// the caller before this is invoked; runLocal always releases it exactly
// once before returning.
func (e *Engine) runLocal(task *types.Task) {
	logger := log.WithTaskID(task.ID).With().Str("component", "engine.local").Logger()
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ExecutionDuration, "local")
	defer e.releaseLedger(task.Estimate)

	scratchDir := filepath.Join(e.scratchRoot, task.ID)
	containerID := task.ID + "-container"

	defer func() {
		ctx, cancel := e.execContext(task)
		if err := e.runtime.RemoveContainer(ctx, containerID); err != nil {
			logger.Warn().Err(err).Msg("container cleanup failed")
		}
		cancel()
		if err := os.RemoveAll(scratchDir); err != nil {
			logger.Warn().Err(err).Msg("scratch area cleanup failed")
		}
	}()

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "failed to allocate scratch area", err))
		return
	}

	inputBytes, err := json.Marshal(task.InputValue())
	if err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "failed to marshal task input", err))
		return
	}
	if err := os.WriteFile(filepath.Join(scratchDir, "input.json"), inputBytes, 0o644); err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "failed to write input.json", err))
		return
	}

	image := e.images.ImageFor(task.TaskType)
	spec := runtime.ContainerSpec{
		ID:    containerID,
		Image: image,
		Command: []string{
			"python", "/app/run.py",
			"--input", containerInputPath,
			"--output", containerOutputPath,
		},
		Mounts: []runtime.Mount{
			{Source: scratchDir, Destination: containerMountPoint, ReadOnly: false},
		},
		CPUQuotaMicros:  int64(task.Estimate.CPU * 100000),
		CPUPeriodMicros: 100000,
		MemoryLimitMiB:  int64(task.Estimate.RAM * 1024),
	}

	ctx, cancel := e.execContext(task)
	defer cancel()

	if err := e.runtime.PullImage(ctx, image); err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, fmt.Sprintf("failed to pull image %s", image), err))
		return
	}

	if _, err := e.runtime.CreateContainer(ctx, spec); err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "failed to create container", err))
		return
	}

	if err := e.runtime.StartContainer(ctx, containerID); err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "failed to start container", err))
		return
	}

	exitCode, timedOut, err := e.runtime.Wait(ctx, containerID, task.MaxExecTime())
	if err != nil {
		e.fail(task, types.NewTaskError(types.ErrInternal, "error waiting for container", err))
		return
	}
	if timedOut {
		e.fail(task, types.NewTaskError(types.ErrContainerTimeout, fmt.Sprintf("container exceeded %s", task.MaxExecTime()), nil))
		return
	}
	if exitCode != 0 {
		e.fail(task, types.NewTaskError(types.ErrContainerNonZero, fmt.Sprintf("container exited with code %d", exitCode), nil))
		return
	}

	outputBytes, err := os.ReadFile(filepath.Join(scratchDir, "output.json"))
	if err != nil {
		e.fail(task, types.NewTaskError(types.ErrOutputUnparsable, "failed to read output.json", err))
		return
	}

	var result any
	dec := json.NewDecoder(bytes.NewReader(outputBytes))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		e.fail(task, types.NewTaskError(types.ErrOutputUnparsable, "failed to parse output.json", err))
		return
	}

	e.complete(task, result)
}

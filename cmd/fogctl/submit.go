package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fogdispatch/pkg/config"
	"github.com/cuemby/fogdispatch/pkg/dispatch"
	"github.com/cuemby/fogdispatch/pkg/engine"
	"github.com/cuemby/fogdispatch/pkg/metrics"
	"github.com/cuemby/fogdispatch/pkg/runtime"
	"github.com/cuemby/fogdispatch/pkg/types"
)

// taskDescription is the shape of the JSON file fogctl submit reads --
// the client-side fields of a Task (spec §3), before NewTask assigns an
// ID and a creation timestamp.
type taskDescription struct {
	TaskType       string                 `json:"task_type"`
	Input          map[string]any         `json:"input"`
	InputOrder     []string               `json:"input_order"`
	Estimate       types.ResourceEstimate `json:"estimate"`
	IsDivisible    bool                   `json:"is_divisible"`
	MaxExecSeconds int                    `json:"max_execution_time"`
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task description and wait for it to reach a terminal state",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringP("file", "f", "", "JSON task description file (required)")
	submitCmd.Flags().Duration("poll-interval", 200*time.Millisecond, "How often to poll task status")
	_ = submitCmd.MarkFlagRequired("file")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	filename, _ := cmd.Flags().GetString("file")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read task description: %w", err)
	}

	var desc taskDescription
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&desc); err != nil {
		return fmt.Errorf("failed to parse task description: %w", err)
	}

	var input types.Payload
	if desc.Input != nil {
		order := desc.InputOrder
		if order == nil {
			// No explicit input_order: fall back to a sorted key order so
			// repeated submissions of the same file always shard input the
			// same way, instead of Go's randomized map iteration deciding
			// which node gets which piece of a divisible task.
			for k := range desc.Input {
				order = append(order, k)
			}
			sort.Strings(order)
		}
		input = types.PayloadFromMap(desc.Input, order)
	}

	task, err := types.NewTask(desc.TaskType, input, nil, desc.Estimate, desc.IsDivisible, desc.MaxExecSeconds)
	if err != nil {
		return fmt.Errorf("invalid task description: %w", err)
	}

	e, cleanup, err := buildEngine(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	id := e.Submit(task)
	fmt.Printf("submitted task %s\n", id)

	for {
		final, ok := e.Status(id)
		if !ok {
			return fmt.Errorf("task %s vanished from the task map", id)
		}
		if final.Status.Terminal() {
			return printResult(final)
		}
		time.Sleep(pollInterval)
	}
}

func printResult(task *types.Task) error {
	out, err := json.MarshalIndent(map[string]any{
		"id":             task.ID,
		"status":         task.Status,
		"assigned_nodes": task.AssignedNodes,
		"result":         task.Result,
		"error":          task.Err,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	if task.Status == types.TaskFailed {
		return fmt.Errorf("task failed")
	}
	return nil
}

// buildEngine constructs an Engine wired to a real containerd runtime and
// HTTP dispatch client, for the CLI's one-shot demo flow. withAdmin starts
// the /metrics and /healthz listener alongside it -- only submit needs
// this, since status is a quick in-memory lookup that would otherwise
// collide with a dispatcher already bound to the same MetricsAddr.
func buildEngine(cfg *config.Config, withAdmin bool) (*engine.Engine, func(), error) {
	if withAdmin {
		// A bind failure (e.g. another fogctl invocation already holds
		// MetricsAddr) is logged by startAdminServer and is not fatal --
		// the admin surface is observability, not part of task execution.
		_ = startAdminServer(cfg)
	}

	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket)
	if err != nil {
		metrics.RegisterComponent("runtime", false, err.Error())
		return nil, nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	metrics.RegisterComponent("runtime", true, "connected")
	metrics.RegisterComponent("dispatch", true, "ready")

	e := engine.New(engine.Config{
		LedgerCapacity:     cfg.LedgerCapacity(),
		Nodes:              cfg.NodeDescriptors(),
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		ScratchRoot:        cfg.ScratchRoot,
	}, rt, dispatch.New(nil))
	e.Start()

	cleanup := func() {
		e.Stop()
		_ = rt.Close()
	}
	return e, cleanup, nil
}

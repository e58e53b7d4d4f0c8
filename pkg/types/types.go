package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the current lifecycle state of a Task.
type TaskState string

const (
	TaskPending    TaskState = "Pending"
	TaskScheduling TaskState = "Scheduling"
	TaskRunning    TaskState = "Running"
	TaskCompleted  TaskState = "Completed"
	TaskFailed     TaskState = "Failed"
)

// Terminal reports whether the state is one the task can no longer leave.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ErrorKind classifies why a task ended up Failed.
type ErrorKind string

const (
	ErrNoPlacement          ErrorKind = "NoPlacement"
	ErrContainerNonZero     ErrorKind = "ContainerNonZero"
	ErrContainerTimeout     ErrorKind = "ContainerTimeout"
	ErrOutputUnparsable     ErrorKind = "OutputUnparsable"
	ErrRemoteHTTPError      ErrorKind = "RemoteHttpError"
	ErrRemoteReportedFailed ErrorKind = "RemoteReportedFailure"
	ErrInternal             ErrorKind = "InternalError"
)

// TaskError is the human-readable failure recorded on a Task when it
// transitions to Failed. It wraps the underlying cause, if any.
type TaskError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *TaskError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// NewTaskError builds a TaskError, optionally wrapping a cause.
func NewTaskError(kind ErrorKind, msg string, cause error) *TaskError {
	return &TaskError{Kind: kind, Message: msg, Cause: cause}
}

// KV is one key/value pair of a task's input payload, preserving the
// position it was submitted in. Plain Go maps have no stable iteration
// order, but the split placement path (spec §4.5.3) must partition the
// payload's key sequence deterministically, so order is carried alongside
// the map rather than reconstructed from it.
type KV struct {
	Key   string
	Value any
}

// Payload is an ordered, JSON-compatible key/value mapping. It is the only
// shape a divisible task's input may take (spec §9 open question 2); a
// non-divisible task may also carry a Payload, or any other JSON value via
// Task.RawInput.
type Payload []KV

// Map returns the payload as a plain map, discarding order.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, kv := range p {
		m[kv.Key] = kv.Value
	}
	return m
}

// Keys returns the ordered key sequence.
func (p Payload) Keys() []string {
	keys := make([]string, len(p))
	for i, kv := range p {
		keys[i] = kv.Key
	}
	return keys
}

// Chunk returns the contiguous sub-payload [start, end).
func (p Payload) Chunk(start, end int) Payload {
	return p[start:end]
}

// PayloadFromMap builds a Payload from a map and an explicit key order,
// e.g. the order keys were decoded off the wire in.
func PayloadFromMap(m map[string]any, order []string) Payload {
	p := make(Payload, 0, len(order))
	for _, k := range order {
		p = append(p, KV{Key: k, Value: m[k]})
	}
	return p
}

// ResourceEstimate is the CPU/RAM/GPU footprint a task declares at
// submission, and the shape the local ledger and node registry compare
// against for fit.
type ResourceEstimate struct {
	CPU float64 // cores
	RAM float64 // gigabytes
	GPU float64 // fraction of one device, [0,1]
}

// Fits reports whether a capacity value (in the same shape as
// ResourceEstimate) is sufficient to satisfy the estimate.
func (r ResourceEstimate) Fits(capacity ResourceEstimate) bool {
	return capacity.CPU >= r.CPU && capacity.RAM >= r.RAM && capacity.GPU >= r.GPU
}

func (r ResourceEstimate) validate() error {
	if r.CPU < 0 || r.RAM < 0 || r.GPU < 0 {
		return fmt.Errorf("resource estimate must be non-negative, got %+v", r)
	}
	if r.GPU > 1 {
		return fmt.Errorf("gpu estimate must be in [0,1], got %v", r.GPU)
	}
	return nil
}

// Task is the immutable descriptor plus mutable lifecycle fields for a
// single unit of work, as defined in spec §3. Everything from Status down
// is only ever mutated by the engine component that currently owns the
// task (admission queue -> dispatcher -> executor), never concurrently.
type Task struct {
	ID             string
	TaskType       string
	Input          Payload // present when the task carries an ordered mapping
	RawInput       any     // present when Input is nil: any other JSON-compatible value
	Estimate       ResourceEstimate
	IsDivisible    bool
	MaxExecSeconds int
	CreatedAt      time.Time

	Status        TaskState
	AssignedNodes []string
	Result        any
	Err           *TaskError
}

// NewTask validates and constructs a Task in state Pending. The caller
// supplies either input (an ordered mapping) or raw (any other JSON value),
// never both.
func NewTask(taskType string, input Payload, raw any, est ResourceEstimate, divisible bool, maxExecSeconds int) (*Task, error) {
	if taskType == "" {
		return nil, fmt.Errorf("task type must not be empty")
	}
	if err := est.validate(); err != nil {
		return nil, err
	}
	if maxExecSeconds <= 0 {
		return nil, fmt.Errorf("max_execution_time must be positive, got %d", maxExecSeconds)
	}
	if divisible && input == nil {
		return nil, fmt.Errorf("a divisible task's input must be an ordered mapping")
	}

	return &Task{
		ID:             uuid.NewString(),
		TaskType:       taskType,
		Input:          input,
		RawInput:       raw,
		Estimate:       est,
		IsDivisible:    divisible,
		MaxExecSeconds: maxExecSeconds,
		CreatedAt:      time.Now(),
		Status:         TaskPending,
	}, nil
}

// MaxExecTime returns MaxExecSeconds as a time.Duration.
func (t *Task) MaxExecTime() time.Duration {
	return time.Duration(t.MaxExecSeconds) * time.Second
}

// InputValue returns whatever the task's input should be serialized as:
// the ordered map if present, else RawInput.
func (t *Task) InputValue() any {
	if t.Input != nil {
		return t.Input.Map()
	}
	return t.RawInput
}

// NodeDescriptor is a remote worker's immutable advertised capacity and
// reachability, as defined in spec §3.
type NodeDescriptor struct {
	ID     string
	Host   string
	Port   int
	CPU    float64
	RAM    float64
	GPU    float64
	Active bool
}

// Capacity returns the descriptor's advertised capacity as a ResourceEstimate.
func (n NodeDescriptor) Capacity() ResourceEstimate {
	return ResourceEstimate{CPU: n.CPU, RAM: n.RAM, GPU: n.GPU}
}

// Address returns the host:port the node's /execute_task endpoint listens on.
func (n NodeDescriptor) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// SubtaskPayload is the JSON body POSTed to a remote node's /execute_task
// endpoint, per spec §4.5.2/§4.5.3 and §6.
type SubtaskPayload struct {
	TaskID         string `json:"task_id"`
	TaskType       string `json:"task_type"`
	InputData      any    `json:"input_data"`
	DockerImage    string `json:"docker_image"`
	MaxExecSeconds int    `json:"max_execution_time"`
}

// RemoteResponse is the JSON body a worker node returns from /execute_task.
type RemoteResponse struct {
	Status  string `json:"status"`
	Results any    `json:"results,omitempty"`
	Error   string `json:"error,omitempty"`
}

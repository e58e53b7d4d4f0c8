// Package runtime is the container execution capability the local
// execution path (spec §4.5.1) is built on. It is injected into the
// engine at construction (teacher's "singleton container client" design
// note) so tests can substitute an in-memory fake that simulates exit
// codes, outputs, and timeouts without a real container runtime.
package runtime

import (
	"context"
	"time"
)

// Mount describes one bind mount into a container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// ContainerSpec is everything the local execution path needs to launch one
// task container, per spec §4.5.1 step 4.
type ContainerSpec struct {
	ID      string // container name incorporates the task ID
	Image   string
	Command []string
	Mounts  []Mount

	CPUQuotaMicros  int64  // micros per 100ms period, spec §4.5.1: cpu_estimate*100000
	CPUPeriodMicros uint64 // always 100000
	MemoryLimitMiB  int64  // spec §4.5.1: ram_estimate*1024
}

// Runtime is the container orchestration capability: pull, create, start,
// wait, and remove. Implementations must make RemoveContainer safe to call
// on a container that was never started or already removed, since the
// engine's cleanup path calls it unconditionally on every exit (spec
// §4.5.1 step 7).
type Runtime interface {
	PullImage(ctx context.Context, image string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error

	// Wait blocks until the container exits or deadline elapses. On
	// timeout it kills the container and returns timedOut=true with a
	// zero exit code; the caller still owes a RemoveContainer call.
	Wait(ctx context.Context, containerID string, deadline time.Duration) (exitCode int, timedOut bool, err error)

	RemoveContainer(ctx context.Context, containerID string) error
}

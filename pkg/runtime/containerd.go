package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// Namespace is the containerd namespace the dispatcher uses, keeping
	// its containers separate from anything else on the same host.
	Namespace = "fogdispatch"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime against a local containerd daemon.
type ContainerdRuntime struct {
	client *containerd.Client
}

// NewContainerdRuntime connects to containerd at socketPath (or the
// default socket if empty).
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{client: client}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ns(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// PullImage pulls a container image from a registry.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = r.ns(ctx)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// CreateContainer creates a container from the given spec: the task's
// derived image, run command, bind mounts, and CPU/memory limits.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = r.ns(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
	}

	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}

	if spec.CPUQuotaMicros > 0 {
		period := spec.CPUPeriodMicros
		if period == 0 {
			period = 100000
		}
		opts = append(opts, oci.WithCPUCFS(spec.CPUQuotaMicros, period))
	}

	if spec.MemoryLimitMiB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryLimitMiB)*1024*1024))
	}

	if len(spec.Mounts) > 0 {
		mounts := make([]specs.Mount, 0, len(spec.Mounts))
		for _, m := range spec.Mounts {
			options := []string{"rbind"}
			if m.ReadOnly {
				options = append(options, "ro")
			} else {
				options = append(options, "rw")
			}
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Destination,
				Type:        "bind",
				Options:     options,
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

// StartContainer creates and starts the container's task.
func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx = r.ns(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	return nil
}

// Wait blocks until the container's task exits or the deadline elapses.
// On a deadline miss it sends SIGKILL and reports timedOut=true, matching
// spec §4.5.1 step 5 ("exceeding the deadline is a Failed transition; the
// container must be terminated").
func (r *ContainerdRuntime) Wait(ctx context.Context, containerID string, deadline time.Duration) (int, bool, error) {
	ctx = r.ns(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get task: %w", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to wait for task: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	select {
	case status := <-statusC:
		if status.Error() != nil {
			return 0, false, fmt.Errorf("task exited with error: %w", status.Error())
		}
		return int(status.ExitCode()), false, nil
	case <-waitCtx.Done():
		// ctx is already expired here -- its deadline is what fired waitCtx,
		// since context.WithTimeout can only narrow a parent's deadline, never
		// loosen it. Kill and the final drain need their own short-lived,
		// undecorated context or they'd fail immediately against a context
		// that's already done, leaving the task running past its deadline.
		killCtx, killCancel := context.WithTimeout(r.ns(context.Background()), 10*time.Second)
		defer killCancel()
		if err := task.Kill(killCtx, syscall.SIGKILL); err != nil {
			return 0, true, fmt.Errorf("failed to kill timed-out task: %w", err)
		}
		select {
		case <-statusC:
		case <-killCtx.Done():
		}
		return 0, true, nil
	}
}

// RemoveContainer stops (if necessary) and deletes the container and its
// snapshot. Safe to call on a container that never started.
func (r *ContainerdRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	ctx = r.ns(ctx)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		// Container might not exist; cleanup is best-effort (spec §7).
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_ = task.Kill(stopCtx, syscall.SIGKILL)
		statusC, waitErr := task.Wait(stopCtx)
		if waitErr == nil {
			<-statusC
		}
		cancel()
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container %s: %w", containerID, err)
	}

	return nil
}

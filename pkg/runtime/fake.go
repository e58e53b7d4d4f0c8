package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FakeOutcome is a scripted result for one container's lifecycle, keyed by
// image in FakeRuntime. It lets tests drive every branch of the local
// execution path (spec §8 scenarios) without a real container runtime.
type FakeOutcome struct {
	ExitCode int
	Output   []byte // written as /data/output.json's contents
	Hang     bool   // never exits; forces the caller's deadline to fire
	PullErr  error
	StartErr error
}

// fakeContainer is what CreateContainer remembers about one container: the
// scripted outcome for its image, and the spec it was created with (so Wait
// knows where the caller's scratch mount lives).
type fakeContainer struct {
	outcome FakeOutcome
	spec    ContainerSpec
}

// FakeRuntime is an in-memory Runtime double. Tests register an outcome
// per image; CreateContainer assigns that outcome to the resulting
// container ID so a later Wait/RemoveContainer can look it up. Wait also
// writes the outcome's Output bytes to the container's first mount, the
// same place a real container would have written output.json, since the
// local execution path reads that file straight off disk rather than
// through the Runtime interface.
type FakeRuntime struct {
	mu       sync.Mutex
	outcomes map[string]FakeOutcome // keyed by image
	byID     map[string]fakeContainer
	removed  map[string]bool
	pulled   []string
}

// NewFakeRuntime builds an empty fake; call SetOutcome before use.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		outcomes: make(map[string]FakeOutcome),
		byID:     make(map[string]fakeContainer),
		removed:  make(map[string]bool),
	}
}

// SetOutcome scripts what containers created from image will do.
func (f *FakeRuntime) SetOutcome(image string, outcome FakeOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[image] = outcome
}

func (f *FakeRuntime) PullImage(ctx context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, image)
	if outcome, ok := f.outcomes[image]; ok && outcome.PullErr != nil {
		return outcome.PullErr
	}
	return nil
}

func (f *FakeRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[spec.ID] = fakeContainer{outcome: f.outcomes[spec.Image], spec: spec}
	return spec.ID, nil
}

func (f *FakeRuntime) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	c, ok := f.byID[containerID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("fake runtime: unknown container %s", containerID)
	}
	return c.outcome.StartErr
}

func (f *FakeRuntime) Wait(ctx context.Context, containerID string, deadline time.Duration) (int, bool, error) {
	f.mu.Lock()
	c, ok := f.byID[containerID]
	f.mu.Unlock()
	if !ok {
		return 0, false, fmt.Errorf("fake runtime: unknown container %s", containerID)
	}

	if c.outcome.Hang {
		// As in ContainerdRuntime.Wait, whichever of ctx and deadline runs
		// out first counts as the container overrunning its limit.
		waitCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		<-waitCtx.Done()
		return 0, true, nil
	}

	if c.outcome.Output != nil && len(c.spec.Mounts) > 0 {
		if err := writeOutput(c.spec.Mounts[0].Source, c.outcome.Output); err != nil {
			return 0, false, err
		}
	}
	return c.outcome.ExitCode, false, nil
}

// writeOutput drops the scripted output bytes at <mountSource>/output.json,
// mirroring where a real container's process writes its result under the
// scratch directory mount (pkg/engine/local.go's containerOutputPath).
func writeOutput(mountSource string, data []byte) error {
	if err := os.MkdirAll(mountSource, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(mountSource, "output.json"), data, 0o644)
}

func (f *FakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[containerID] = true
	delete(f.byID, containerID)
	return nil
}

// Removed reports whether RemoveContainer was called for containerID --
// tests use this to assert cleanup ran on every exit path.
func (f *FakeRuntime) Removed(containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[containerID]
}

// Output returns the scripted output bytes for an image, for the engine's
// local executor fake-filesystem path in tests.
func (f *FakeRuntime) Output(image string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[image].Output
}

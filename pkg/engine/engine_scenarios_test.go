package engine

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/fogdispatch/pkg/catalog"
	"github.com/cuemby/fogdispatch/pkg/dispatch"
	"github.com/cuemby/fogdispatch/pkg/runtime"
	"github.com/cuemby/fogdispatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeFromServer(t *testing.T, id string, server *httptest.Server, cpu, ram, gpu float64) types.NodeDescriptor {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return types.NodeDescriptor{ID: id, Host: host, Port: port, CPU: cpu, RAM: ram, GPU: gpu, Active: true}
}

func waitTerminal(t *testing.T, e *Engine, taskID string) *types.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := e.Status(taskID)
		require.True(t, ok)
		if task.Status.Terminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", taskID)
	return nil
}

func newTestEngine(t *testing.T, cfg Config, rt runtime.Runtime) *Engine {
	t.Helper()
	cfg.ScratchRoot = t.TempDir()
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = 4
	}
	e := New(cfg, rt, dispatch.New(nil))
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

// Local fit: spec §8 scenario 1.
func TestScenarioLocalFit(t *testing.T) {
	fake := runtime.NewFakeRuntime()
	fake.SetOutcome(catalog.NewImageCatalog(nil).ImageFor("image_processing"), runtime.FakeOutcome{
		ExitCode: 0,
		Output:   []byte(`{"ok":true}`),
	})

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 4, RAM: 8, GPU: 1},
	}, fake)

	task, err := types.NewTask("image_processing", nil, map[string]any{"x": 1}, types.ResourceEstimate{CPU: 1, RAM: 2, GPU: 0}, false, 5)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	assert.Equal(t, types.TaskCompleted, final.Status)
	assert.Equal(t, map[string]any{"ok": true}, final.Result)

	avail := e.ledger.Available()
	assert.Equal(t, types.ResourceEstimate{CPU: 4, RAM: 8, GPU: 1}, avail)
}

// Local overflow to single remote: spec §8 scenario 2.
func TestScenarioLocalOverflowToRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.RemoteResponse{Status: "Completed", Results: float64(42)})
	}))
	defer server.Close()

	node := nodeFromServer(t, "n1", server, 4, 8, 1)
	fake := runtime.NewFakeRuntime()

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 1, RAM: 1, GPU: 0},
		Nodes:          []types.NodeDescriptor{node},
	}, fake)

	task, err := types.NewTask("image_processing", nil, map[string]any{"x": 1}, types.ResourceEstimate{CPU: 2, RAM: 4, GPU: 0}, false, 5)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	assert.Equal(t, types.TaskCompleted, final.Status)
	assert.Equal(t, json.Number("42"), final.Result)
	assert.Equal(t, []string{"n1"}, final.AssignedNodes)
}

// No fit: spec §8 scenario 3.
func TestScenarioNoFit(t *testing.T) {
	fake := runtime.NewFakeRuntime()
	input := types.PayloadFromMap(map[string]any{"a": 1}, []string{"a"})

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 1, RAM: 1, GPU: 0},
	}, fake)

	task, err := types.NewTask("image_processing", input, nil, types.ResourceEstimate{CPU: 2, RAM: 2, GPU: 0}, true, 5)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	assert.Equal(t, types.TaskFailed, final.Status)
	assert.Nil(t, final.Result)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrNoPlacement, final.Err.Kind)
}

// Split across two: spec §8 scenario 4.
func TestScenarioSplitAcrossTwo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload types.SubtaskPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.RemoteResponse{Status: "Completed", Results: payload.InputData})
	}))
	defer server.Close()

	n1 := nodeFromServer(t, "N1", server, 2, 4, 0)
	n2 := nodeFromServer(t, "N2", server, 2, 4, 0)
	fake := runtime.NewFakeRuntime()

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 0, RAM: 0, GPU: 0},
		Nodes:          []types.NodeDescriptor{n1, n2},
	}, fake)

	input := types.PayloadFromMap(
		map[string]any{"a": 1.0, "b": 2.0, "c": 3.0, "d": 4.0},
		[]string{"a", "b", "c", "d"},
	)
	task, err := types.NewTask("image_processing", input, nil, types.ResourceEstimate{CPU: 3, RAM: 6, GPU: 0}, true, 5)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	require.Equal(t, types.TaskCompleted, final.Status)
	require.Equal(t, []string{"N1", "N2"}, final.AssignedNodes)

	combined, ok := final.Result.([]any)
	require.True(t, ok)
	require.Len(t, combined, 2)
	assert.Equal(t, map[string]any{"a": json.Number("1"), "b": json.Number("2")}, combined[0])
	assert.Equal(t, map[string]any{"c": json.Number("3"), "d": json.Number("4")}, combined[1])
}

// Container timeout: spec §8 scenario 5.
func TestScenarioContainerTimeout(t *testing.T) {
	image := catalog.NewImageCatalog(nil).ImageFor("image_processing")
	fake := runtime.NewFakeRuntime()
	fake.SetOutcome(image, runtime.FakeOutcome{Hang: true})

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 4, RAM: 8, GPU: 1},
	}, fake)

	task, err := types.NewTask("image_processing", nil, map[string]any{"x": 1}, types.ResourceEstimate{CPU: 1, RAM: 1, GPU: 0}, false, 1)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	assert.Equal(t, types.TaskFailed, final.Status)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrContainerTimeout, final.Err.Kind)

	avail := e.ledger.Available()
	assert.Equal(t, types.ResourceEstimate{CPU: 4, RAM: 8, GPU: 1}, avail)
	assert.True(t, fake.Removed(id+"-container"))
}

// Remote HTTP error: spec §8 scenario 6.
func TestScenarioRemoteHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	node := nodeFromServer(t, "n1", server, 4, 8, 1)
	fake := runtime.NewFakeRuntime()

	e := newTestEngine(t, Config{
		LedgerCapacity: types.ResourceEstimate{CPU: 0, RAM: 0, GPU: 0},
		Nodes:          []types.NodeDescriptor{node},
	}, fake)

	task, err := types.NewTask("image_processing", nil, map[string]any{"x": 1}, types.ResourceEstimate{CPU: 1, RAM: 1, GPU: 0}, false, 2)
	require.NoError(t, err)

	id := e.Submit(task)
	final := waitTerminal(t, e, id)

	assert.Equal(t, types.TaskFailed, final.Status)
	require.NotNil(t, final.Err)
	assert.Equal(t, types.ErrRemoteHTTPError, final.Err.Kind)
}

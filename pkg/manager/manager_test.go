package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisu-os/core/pkg/config"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/types"
)

// fakeEngine is a scripted runtime standing in for the container engine.
type fakeEngine struct {
	containers map[string]*fakeContainer
	createErr  error
	startErr   error
	stopErr    error
	inspectErr error

	createCalls int
	startCalls  int
	execs       [][]string
}

type fakeContainer struct {
	id      string
	running bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{containers: map[string]*fakeContainer{}}
}

func (f *fakeEngine) Create(_ context.Context, spec *types.ContainerSpec) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	if _, ok := f.containers[spec.Name]; ok {
		return "", runtime.ErrConflict
	}
	c := &fakeContainer{id: "engine-" + spec.Name}
	f.containers[spec.Name] = c
	return c.id, nil
}

func (f *fakeEngine) Start(_ context.Context, name string) error {
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	c, ok := f.containers[name]
	if !ok {
		return runtime.ErrNotFound
	}
	c.running = true
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, name string, _ time.Duration) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	c, ok := f.containers[name]
	if !ok {
		return runtime.ErrNotFound
	}
	c.running = false
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, name string) error {
	delete(f.containers, name)
	return nil
}

func (f *fakeEngine) Inspect(_ context.Context, name string) (*runtime.State, error) {
	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	c, ok := f.containers[name]
	if !ok {
		return nil, runtime.ErrNotFound
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return &runtime.State{ID: c.id, Status: status, Running: c.running, IP: "10.0.0.7"}, nil
}

func (f *fakeEngine) Logs(context.Context, string, int) (string, error) {
	return "", nil
}

func (f *fakeEngine) ExecUnary(_ context.Context, _ string, argv []string, _ string, _ []string) (*runtime.ExecResult, error) {
	f.execs = append(f.execs, argv)
	return &runtime.ExecResult{}, nil
}

func (f *fakeEngine) ExecStream(context.Context, string, []string, string, []string, bool) (runtime.Stream, error) {
	return nil, runtime.ErrNotFound
}

func testConfig(t *testing.T) config.ContainerConfig {
	return config.ContainerConfig{
		Enabled:          true,
		Image:            "aisu/desktop:latest",
		Network:          "aisu-net",
		UserDataBasePath: t.TempDir(),
		CPUPeriod:        100000,
		RAMPerCPU:        "1g",
		PidsLimit:        256,
		NetworkRate:      "5mbit",
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeEngine, store.Store, *types.User) {
	t.Helper()

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := newFakeEngine()
	mgr := NewManager(st, engine, nil, testConfig(t))

	user := &types.User{ID: uuid.New(), Username: "alice", CPU: 2, DiskMB: 5120, IsActive: true}
	return mgr, engine, st, user
}

func TestProvisionCreatesRecordDirsAndEvents(t *testing.T) {
	mgr, engine, st, user := newTestManager(t)

	rec, err := mgr.Provision(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, types.ContainerStatusRunning, rec.Status)
	assert.Equal(t, types.ContainerName(user.ID), rec.ContainerName)
	assert.Equal(t, "engine-"+rec.ContainerName, rec.ContainerID)
	assert.Equal(t, "10.0.0.7", rec.ContainerIP)
	assert.Equal(t, int64(2)<<30, rec.RAMLimit)
	assert.NotNil(t, rec.StartedAt)

	// Host directory layout.
	for _, dir := range hostDirs {
		info, err := os.Stat(filepath.Join(mgr.cfg.UserDataBasePath, user.ID.String(), dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	// Audit trail: creating then created.
	events, err := st.ListContainerEvents(user.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventCreating, events[0].EventType)
	assert.Equal(t, types.EventCreated, events[1].EventType)

	// Home directories were seeded inside the container.
	require.NotEmpty(t, engine.execs)
	assert.Equal(t, "mkdir", engine.execs[len(engine.execs)-1][0])
}

func TestProvisionFailureRecordsError(t *testing.T) {
	mgr, engine, st, user := newTestManager(t)
	engine.createErr = assert.AnError

	rec, err := mgr.Provision(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusError, rec.Status)

	events, err := st.ListContainerEvents(user.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventError, events[1].EventType)
}

func TestStartIdempotentOnRunning(t *testing.T) {
	mgr, engine, _, user := newTestManager(t)
	ctx := context.Background()

	result, err := mgr.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "Container provisioned", result.Message)
	created := engine.createCalls

	// Starting a running container returns success without another create.
	result, err = mgr.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, result.Status)
	assert.Equal(t, "Container already running", result.Message)
	assert.Equal(t, created, engine.createCalls)
}

func TestStartAfterStop(t *testing.T) {
	mgr, _, st, user := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, user)
	require.NoError(t, err)

	stopResult, err := mgr.Stop(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusStopped, stopResult.Status)

	// Stop again: idempotent success.
	stopResult, err = mgr.Stop(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Container already stopped", stopResult.Message)

	startResult, err := mgr.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, startResult.Status)
	assert.Equal(t, "Container started", startResult.Message)

	events, err := st.ListContainerEvents(user.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, types.EventStarted, events[len(events)-1].EventType)
}

func TestStartReprovisionsWhenEngineLostContainer(t *testing.T) {
	mgr, engine, _, user := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, user)
	require.NoError(t, err)

	// The engine loses the container while the record persists.
	delete(engine.containers, types.ContainerName(user.ID))

	result, err := mgr.Start(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, result.Status)
	assert.Equal(t, "Container re-provisioned", result.Message)
	assert.Equal(t, 2, engine.createCalls)
}

func TestStopMissingRecord(t *testing.T) {
	mgr, _, _, user := newTestManager(t)

	_, err := mgr.Stop(context.Background(), user.ID)
	require.Error(t, err)
}

func TestLiveStatusReconciles(t *testing.T) {
	mgr, engine, _, user := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, user)
	require.NoError(t, err)

	// Container dies behind the manager's back.
	engine.containers[types.ContainerName(user.ID)].running = false

	status, err := mgr.LiveStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusStopped, status.Record.Status)
	assert.Equal(t, "exited", status.EngineStatus)

	// The reconciled value was persisted.
	status, err = mgr.LiveStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusStopped, status.Record.Status)
}

func TestLiveStatusUnreachable(t *testing.T) {
	mgr, engine, _, user := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, user)
	require.NoError(t, err)

	engine.inspectErr = assert.AnError

	status, err := mgr.LiveStatus(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "unreachable", status.EngineStatus)
	assert.Equal(t, types.ContainerStatusRunning, status.Record.Status)
}

func TestRestart(t *testing.T) {
	mgr, _, _, user := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, user)
	require.NoError(t, err)

	result, err := mgr.Restart(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, result.Status)
}

func TestBuildSpecCaps(t *testing.T) {
	mgr, _, _, user := newTestManager(t)

	spec := mgr.buildSpec(user, int64(user.CPU)<<30)
	assert.Equal(t, int64(user.CPU)*mgr.cfg.CPUPeriod, spec.CPUQuota)
	assert.Equal(t, mgr.cfg.CPUPeriod, spec.CPUPeriod)
	assert.Equal(t, int64(2)<<30, spec.MemoryBytes)
	assert.Equal(t, int64(256), spec.PidsLimit)
	assert.Equal(t, "aisu-"+user.ID.String()[:8], spec.Hostname)
	assert.Equal(t, "true", spec.Labels["aisu.managed"])
	assert.Contains(t, spec.Binds, filepath.Join(mgr.cfg.UserDataBasePath, user.ID.String()))
}

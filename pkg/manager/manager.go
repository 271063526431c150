package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/config"
	"github.com/aisu-os/core/pkg/events"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/metrics"
	"github.com/aisu-os/core/pkg/runtime"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/types"
)

// defaultStopGrace is the SIGTERM grace before the engine force-kills.
const defaultStopGrace = 10 * time.Second

// homeDirs are the standard directories seeded into a fresh container home.
var homeDirs = []string{
	"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos", ".Trash",
}

// hostDirs are the per-user directories created on the host under the data
// base path; the whole tree is bind-mounted into the container.
var hostDirs = []string{
	"Desktop", "Documents", "Downloads", "Pictures", "Music", "Videos", ".aisu", ".trash",
}

// HomeBasePath is the fixed home directory of the unprivileged in-container
// account; the VFS is rooted here.
const HomeBasePath = "/home/aisu"

// ContainerUser is the unprivileged account all execs run under.
const ContainerUser = "aisu"

// ActionResult reports the outcome of a lifecycle operation.
type ActionResult struct {
	Status  types.ContainerStatus `json:"status"`
	Message string                `json:"message"`
}

// Manager owns per-user container lifecycle: provisioning, start/stop,
// reconciliation of the persisted record against the engine, and the audit
// event stream.
type Manager struct {
	store   store.Store
	runtime runtime.Runtime
	broker  *events.Broker
	cfg     config.ContainerConfig
	logger  zerolog.Logger
}

// NewManager creates a container lifecycle manager.
func NewManager(st store.Store, rt runtime.Runtime, broker *events.Broker, cfg config.ContainerConfig) *Manager {
	return &Manager{
		store:   st,
		runtime: rt,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("manager"),
	}
}

// logEvent appends to the durable audit log and publishes to the broker.
// Event writes are observational; failures are logged, never propagated.
func (m *Manager) logEvent(userID uuid.UUID, eventType types.ContainerEventType, details map[string]interface{}) {
	event := &types.ContainerEvent{
		UserID:    userID,
		EventType: eventType,
		Details:   details,
	}
	if err := m.store.AppendContainerEvent(event); err != nil {
		m.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to append container event")
	}
	if m.broker != nil {
		m.broker.Publish(&events.Event{
			UserID:  userID,
			Type:    eventType,
			Details: details,
		})
	}
}

// userDataPath returns the host directory bound into the user's container.
func (m *Manager) userDataPath(userID uuid.UUID) string {
	return filepath.Join(m.cfg.UserDataBasePath, userID.String())
}

// createUserDirs lays out the per-user host directory tree.
func (m *Manager) createUserDirs(userID uuid.UUID) (string, error) {
	base := m.userDataPath(userID)
	for _, dir := range hostDirs {
		if err := os.MkdirAll(filepath.Join(base, dir), 0755); err != nil {
			return "", fmt.Errorf("failed to create user directory: %w", err)
		}
	}
	return base, nil
}

// buildSpec assembles the container spec from config and per-user caps.
func (m *Manager) buildSpec(user *types.User, ramBytes int64) *types.ContainerSpec {
	return &types.ContainerSpec{
		Image:    m.cfg.Image,
		Name:     types.ContainerName(user.ID),
		Hostname: types.ContainerHostname(user.ID),
		Network:  m.cfg.Network,
		Binds: map[string]string{
			m.userDataPath(user.ID): HomeBasePath + "/data",
		},
		CPUQuota:    int64(user.CPU) * m.cfg.CPUPeriod,
		CPUPeriod:   m.cfg.CPUPeriod,
		MemoryBytes: ramBytes,
		PidsLimit:   m.cfg.PidsLimit,
		Env: map[string]string{
			"AISU_USER_ID": user.ID.String(),
		},
		Labels: map[string]string{
			"aisu.user_id": user.ID.String(),
			"aisu.managed": "true",
		},
		Runtime: m.cfg.Runtime,
	}
}

// Provision creates the host layout, persists a creating record, creates and
// starts the container, seeds the home directories, and records the outcome.
func (m *Manager) Provision(ctx context.Context, user *types.User) (*types.ContainerRecord, error) {
	ramBytes := int64(user.CPU) * m.cfg.RAMPerCPUBytes()
	diskBytes := int64(user.DiskMB) * 1024 * 1024

	if _, err := m.createUserDirs(user.ID); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to prepare user data directory")
	}

	rec := &types.ContainerRecord{
		UserID:        user.ID,
		ContainerName: types.ContainerName(user.ID),
		Status:        types.ContainerStatusCreating,
		CPULimit:      user.CPU,
		RAMLimit:      ramBytes,
		DiskLimit:     diskBytes,
		NetworkRate:   m.cfg.NetworkRate,
	}
	if err := m.store.UpsertContainer(rec); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to persist container record")
	}
	m.logEvent(user.ID, types.EventCreating, map[string]interface{}{
		"cpu":     user.CPU,
		"disk_mb": user.DiskMB,
	})

	id, err := m.createAndStart(ctx, rec, user, ramBytes)
	if err != nil {
		rec.Status = types.ContainerStatusError
		if uerr := m.store.UpsertContainer(rec); uerr != nil {
			m.logger.Error().Err(uerr).Msg("failed to persist error status")
		}
		m.logEvent(user.ID, types.EventError, map[string]interface{}{"error": err.Error()})
		metrics.ContainerOperationsTotal.WithLabelValues("provision", "error").Inc()
		m.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("container provisioning failed")
		return rec, nil
	}

	startedAt := time.Now().UTC()
	rec.ContainerID = id
	rec.Status = types.ContainerStatusRunning
	rec.StartedAt = &startedAt

	if state, ierr := m.runtime.Inspect(ctx, rec.ContainerName); ierr == nil {
		rec.ContainerIP = state.IP
	}

	if err := m.store.UpsertContainer(rec); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to persist container record")
	}
	m.logEvent(user.ID, types.EventCreated, map[string]interface{}{
		"container_id": id,
		"container_ip": rec.ContainerIP,
	})
	metrics.ContainerOperationsTotal.WithLabelValues("provision", "ok").Inc()

	m.seedHomeDirs(ctx, rec.ContainerName)

	return rec, nil
}

// createAndStart creates the container (tolerating a name conflict from a
// concurrent provision) and starts it.
func (m *Manager) createAndStart(ctx context.Context, rec *types.ContainerRecord, user *types.User, ramBytes int64) (string, error) {
	spec := m.buildSpec(user, ramBytes)

	id, err := m.runtime.Create(ctx, spec)
	if errors.Is(err, runtime.ErrConflict) {
		// A concurrent provision won the race on the unique name; reconcile
		// from the engine.
		state, ierr := m.runtime.Inspect(ctx, rec.ContainerName)
		if ierr != nil {
			return "", fmt.Errorf("create conflict but inspect failed: %w", ierr)
		}
		id = state.ID
	} else if err != nil {
		return "", err
	}

	if err := m.runtime.Start(ctx, rec.ContainerName); err != nil {
		return "", err
	}
	return id, nil
}

// seedHomeDirs creates the standard home directories inside the container.
func (m *Manager) seedHomeDirs(ctx context.Context, containerName string) {
	argv := []string{"mkdir", "-p"}
	for _, dir := range homeDirs {
		argv = append(argv, HomeBasePath+"/"+dir)
	}
	result, err := m.runtime.ExecUnary(ctx, containerName, argv, ContainerUser, nil)
	if err != nil {
		m.logger.Warn().Err(err).Str("container", containerName).Msg("failed to seed home directories")
		return
	}
	if result.ExitCode != 0 {
		m.logger.Warn().Int("exit", result.ExitCode).Str("container", containerName).Msg("home directory seeding exited non-zero")
	}
}

// Start brings a user's container to running. Without a record it delegates
// to Provision; a vanished engine container triggers the re-provision path.
func (m *Manager) Start(ctx context.Context, user *types.User) (*ActionResult, error) {
	rec, err := m.store.GetContainer(user.ID)
	if store.IsNotFound(err) {
		rec, perr := m.Provision(ctx, user)
		if perr != nil {
			return nil, perr
		}
		return &ActionResult{Status: rec.Status, Message: "Container provisioned"}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to load container record")
	}

	state, err := m.runtime.Inspect(ctx, rec.ContainerName)
	if errors.Is(err, runtime.ErrNotFound) {
		// Record exists but the engine lost the container: re-provision.
		m.logger.Warn().Str("user_id", user.ID.String()).Msg("container missing from engine, re-provisioning")
		rec, perr := m.Provision(ctx, user)
		if perr != nil {
			return nil, perr
		}
		return &ActionResult{Status: rec.Status, Message: "Container re-provisioned"}, nil
	}
	if err != nil {
		m.transitionToError(rec, user.ID, err)
		return &ActionResult{Status: types.ContainerStatusError, Message: "Failed to start container"}, nil
	}

	if state.Running {
		if rec.Status != types.ContainerStatusRunning {
			rec.Status = types.ContainerStatusRunning
			if uerr := m.store.UpsertContainer(rec); uerr != nil {
				m.logger.Error().Err(uerr).Msg("failed to persist running status")
			}
		}
		return &ActionResult{Status: types.ContainerStatusRunning, Message: "Container already running"}, nil
	}

	if err := m.runtime.Start(ctx, rec.ContainerName); err != nil {
		m.transitionToError(rec, user.ID, err)
		metrics.ContainerOperationsTotal.WithLabelValues("start", "error").Inc()
		return &ActionResult{Status: types.ContainerStatusError, Message: "Failed to start container"}, nil
	}

	startedAt := time.Now().UTC()
	rec.Status = types.ContainerStatusRunning
	rec.StartedAt = &startedAt
	if state, ierr := m.runtime.Inspect(ctx, rec.ContainerName); ierr == nil {
		rec.ContainerIP = state.IP
	}
	if err := m.store.UpsertContainer(rec); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to persist container record")
	}
	m.logEvent(user.ID, types.EventStarted, nil)
	metrics.ContainerOperationsTotal.WithLabelValues("start", "ok").Inc()

	return &ActionResult{Status: types.ContainerStatusRunning, Message: "Container started"}, nil
}

// Stop stops a user's container. Idempotent: already-stopped is success.
func (m *Manager) Stop(ctx context.Context, userID uuid.UUID) (*ActionResult, error) {
	rec, err := m.store.GetContainer(userID)
	if store.IsNotFound(err) {
		return nil, apperr.New(apperr.NotFound, "Container not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to load container record")
	}

	if rec.Status == types.ContainerStatusStopped {
		return &ActionResult{Status: types.ContainerStatusStopped, Message: "Container already stopped"}, nil
	}

	if err := m.runtime.Stop(ctx, rec.ContainerName, defaultStopGrace); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		m.transitionToError(rec, userID, err)
		metrics.ContainerOperationsTotal.WithLabelValues("stop", "error").Inc()
		return &ActionResult{Status: types.ContainerStatusError, Message: "Failed to stop container"}, nil
	}

	rec.Status = types.ContainerStatusStopped
	if err := m.store.UpsertContainer(rec); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to persist container record")
	}
	m.logEvent(userID, types.EventStopped, nil)
	metrics.ContainerOperationsTotal.WithLabelValues("stop", "ok").Inc()

	return &ActionResult{Status: types.ContainerStatusStopped, Message: "Container stopped"}, nil
}

// Restart is stop-then-start.
func (m *Manager) Restart(ctx context.Context, user *types.User) (*ActionResult, error) {
	if _, err := m.Stop(ctx, user.ID); err != nil && !apperr.IsKind(err, apperr.NotFound) {
		return nil, err
	}
	return m.Start(ctx, user)
}

// StatusResult is the reconciled status answer.
type StatusResult struct {
	Record       *types.ContainerRecord `json:"container"`
	EngineStatus string                 `json:"engine_status"`
}

// LiveStatus inspects the engine and reconciles the persisted record with
// what the engine reports. Unreachable engines leave the record untouched.
func (m *Manager) LiveStatus(ctx context.Context, userID uuid.UUID) (*StatusResult, error) {
	rec, err := m.store.GetContainer(userID)
	if store.IsNotFound(err) {
		return nil, apperr.New(apperr.NotFound, "Container not found")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to load container record")
	}

	if rec.ContainerID == "" {
		return &StatusResult{Record: rec, EngineStatus: "unknown"}, nil
	}

	state, err := m.runtime.Inspect(ctx, rec.ContainerName)
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("engine inspect failed")
		return &StatusResult{Record: rec, EngineStatus: "unreachable"}, nil
	}

	mapped := mapEngineStatus(state)
	if mapped != rec.Status {
		rec.Status = mapped
		rec.ContainerIP = state.IP
		if err := m.store.UpsertContainer(rec); err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "Failed to persist container record")
		}
	}

	return &StatusResult{Record: rec, EngineStatus: state.Status}, nil
}

// TouchActivity updates the last-activity timestamp on the record.
func (m *Manager) TouchActivity(userID uuid.UUID) {
	rec, err := m.store.GetContainer(userID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	rec.LastActivity = &now
	if err := m.store.UpsertContainer(rec); err != nil {
		m.logger.Debug().Err(err).Msg("failed to touch last activity")
	}
}

// EnsureRunning makes sure the user's container is running, provisioning or
// re-provisioning as needed. It reports whether a (re)provision happened so
// callers can wait for readiness.
func (m *Manager) EnsureRunning(ctx context.Context, user *types.User) (provisioned bool, err error) {
	result, err := m.Start(ctx, user)
	if err != nil {
		return false, err
	}
	if result.Status != types.ContainerStatusRunning && result.Status != types.ContainerStatusCreating {
		return false, apperr.New(apperr.Unavailable, "Container failed to start")
	}
	switch result.Message {
	case "Container provisioned", "Container re-provisioned":
		return true, nil
	}
	return false, nil
}

// WaitReady polls the engine until the container reports running, bounded by
// timeout. Used after a (re)provision before attaching a terminal.
func (m *Manager) WaitReady(ctx context.Context, userID uuid.UUID, timeout time.Duration) error {
	name := types.ContainerName(userID)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, err := m.runtime.Inspect(ctx, name)
		if err == nil && state.Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return apperr.New(apperr.Unavailable, "Container did not become ready")
}

func (m *Manager) transitionToError(rec *types.ContainerRecord, userID uuid.UUID, cause error) {
	rec.Status = types.ContainerStatusError
	if err := m.store.UpsertContainer(rec); err != nil {
		m.logger.Error().Err(err).Msg("failed to persist error status")
	}
	m.logEvent(userID, types.EventError, map[string]interface{}{"error": cause.Error()})
	m.logger.Error().Err(cause).Str("user_id", userID.String()).Msg("container operation failed")
}

// mapEngineStatus maps an engine status string onto the persisted states.
func mapEngineStatus(state *runtime.State) types.ContainerStatus {
	if state.Running {
		return types.ContainerStatusRunning
	}
	switch state.Status {
	case "created":
		return types.ContainerStatusCreating
	case "removing", "dead":
		return types.ContainerStatusError
	default:
		return types.ContainerStatusStopped
	}
}

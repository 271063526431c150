package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/aisu-os/core/pkg/types"
)

// DockerRuntime implements Runtime against a Docker-compatible engine API.
type DockerRuntime struct {
	client *client.Client

	// network is the engine network containers join; Inspect reports the
	// address inside it.
	network string
}

// NewDockerRuntime connects to the engine at engineURL. An empty URL falls
// back to the environment (DOCKER_HOST et al).
func NewDockerRuntime(engineURL, networkName string) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if engineURL != "" {
		opts = []client.Opt{client.WithHost(engineURL), client.WithAPIVersionNegotiation()}
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to container engine: %w", err)
	}

	return &DockerRuntime{client: cli, network: networkName}, nil
}

// Close closes the engine client connection.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// Create creates a container from spec. Creating an already-existing name
// returns ErrConflict; callers reconcile via Inspect.
func (r *DockerRuntime) Create(ctx context.Context, spec *types.ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	binds := make([]string, 0, len(spec.Binds))
	for host, ctr := range spec.Binds {
		binds = append(binds, host+":"+ctr)
	}

	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Env:      env,
		Labels:   spec.Labels,
	}

	pids := spec.PidsLimit
	hostCfg := &container.HostConfig{
		Binds:   binds,
		Runtime: spec.Runtime,
		Resources: container.Resources{
			CPUQuota:  spec.CPUQuota,
			CPUPeriod: spec.CPUPeriod,
			Memory:    spec.MemoryBytes,
			PidsLimit: &pids,
		},
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

// Start starts a container by name.
func (r *DockerRuntime) Start(ctx context.Context, name string) error {
	if err := r.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Stop stops a container with a SIGTERM grace period.
func (r *DockerRuntime) Stop(ctx context.Context, name string, grace time.Duration) error {
	seconds := int(grace / time.Second)
	if err := r.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &seconds}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove removes a container and its filesystem layer.
func (r *DockerRuntime) Remove(ctx context.Context, name string) error {
	err := r.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Inspect returns the engine state for a container.
func (r *DockerRuntime) Inspect(ctx context.Context, name string) (*State, error) {
	info, err := r.client.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	state := &State{ID: info.ID}
	if info.State != nil {
		state.Status = info.State.Status
		state.Running = info.State.Running
	}
	if info.NetworkSettings != nil {
		if ep, ok := info.NetworkSettings.Networks[r.network]; ok && ep != nil {
			state.IP = ep.IPAddress
		}
	}
	return state, nil
}

// Logs returns the last tail lines of the container's output.
func (r *DockerRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	rc, err := r.client.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to fetch logs for %s: %w", name, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", fmt.Errorf("failed to read logs for %s: %w", name, err)
	}
	out := stdout.String()
	if stderr.Len() > 0 {
		out += stderr.String()
	}
	return strings.TrimSpace(out), nil
}

// ExecUnary runs argv to completion and returns demultiplexed output plus
// the exit code.
func (r *DockerRuntime) ExecUnary(ctx context.Context, name string, argv []string, user string, env []string) (*ExecResult, error) {
	created, err := r.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		User:         user,
		Cmd:          argv,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec in %s: %w", name, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read exec output in %s: %w", name, err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec in %s: %w", name, err)
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// ExecStream starts argv attached over the engine's hijacked connection.
func (r *DockerRuntime) ExecStream(ctx context.Context, name string, argv []string, user string, env []string, tty bool) (Stream, error) {
	created, err := r.client.ContainerExecCreate(ctx, name, container.ExecOptions{
		User:         user,
		Cmd:          argv,
		Env:          env,
		Tty:          tty,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec in %s: %w", name, err)
	}

	return &dockerStream{
		client: r.client,
		execID: created.ID,
		attach: attach,
	}, nil
}

type dockerStream struct {
	client *client.Client
	execID string
	attach dockertypes.HijackedResponse
	closed bool
}

func (s *dockerStream) Read(p []byte) (int, error) {
	return s.attach.Reader.Read(p)
}

func (s *dockerStream) Write(p []byte) (int, error) {
	return s.attach.Conn.Write(p)
}

func (s *dockerStream) Resize(ctx context.Context, rows, cols uint) error {
	return s.client.ContainerExecResize(ctx, s.execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
}

func (s *dockerStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.attach.Close()
	return nil
}

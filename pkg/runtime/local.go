package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/aisu-os/core/pkg/types"
)

// LocalRuntime runs every container as a directory under baseDir and every
// exec as a host process rooted there. It backs the container_enabled=false
// development escape hatch, where no engine is available but the filesystem
// API should still work against real directories.
type LocalRuntime struct {
	baseDir string

	mu     sync.Mutex
	states map[string]*localContainer
}

type localContainer struct {
	id      string
	running bool
}

// NewLocalRuntime creates a local-filesystem runtime rooted at baseDir.
func NewLocalRuntime(baseDir string) (*LocalRuntime, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local runtime dir: %w", err)
	}
	return &LocalRuntime{
		baseDir: baseDir,
		states:  make(map[string]*localContainer),
	}, nil
}

// Root returns the host directory backing a container name.
func (r *LocalRuntime) Root(name string) string {
	return filepath.Join(r.baseDir, name)
}

func (r *LocalRuntime) Create(_ context.Context, spec *types.ContainerSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[spec.Name]; ok {
		return "", ErrConflict
	}
	if err := os.MkdirAll(r.Root(spec.Name), 0755); err != nil {
		return "", fmt.Errorf("failed to create container root: %w", err)
	}
	c := &localContainer{id: "local-" + spec.Name, running: true}
	r.states[spec.Name] = c
	return c.id, nil
}

func (r *LocalRuntime) Start(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.states[name]
	if !ok {
		return ErrNotFound
	}
	c.running = true
	return nil
}

func (r *LocalRuntime) Stop(_ context.Context, name string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.states[name]
	if !ok {
		return ErrNotFound
	}
	c.running = false
	return nil
}

func (r *LocalRuntime) Remove(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[name]; !ok {
		return ErrNotFound
	}
	delete(r.states, name)
	return os.RemoveAll(r.Root(name))
}

func (r *LocalRuntime) Inspect(_ context.Context, name string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.states[name]
	if !ok {
		return nil, ErrNotFound
	}
	status := "exited"
	if c.running {
		status = "running"
	}
	return &State{ID: c.id, Status: status, Running: c.running, IP: "127.0.0.1"}, nil
}

func (r *LocalRuntime) Logs(_ context.Context, name string, _ int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[name]; !ok {
		return "", ErrNotFound
	}
	return "", nil
}

// ExecUnary runs argv as a host process with the container root as working
// directory. The unprivileged user argument has no local equivalent and is
// ignored.
func (r *LocalRuntime) ExecUnary(ctx context.Context, name string, argv []string, _ string, env []string) (*ExecResult, error) {
	r.mu.Lock()
	c, ok := r.states[name]
	running := ok && c.running
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !running {
		return nil, fmt.Errorf("container %s is not running", name)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Root(name)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to exec locally: %w", err)
		}
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

// ExecStream is not supported locally; the terminal requires a real engine.
func (r *LocalRuntime) ExecStream(context.Context, string, []string, string, []string, bool) (Stream, error) {
	return nil, fmt.Errorf("streaming exec is not supported by the local runtime")
}

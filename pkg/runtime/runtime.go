package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/aisu-os/core/pkg/types"
)

var (
	// ErrNotFound is returned when the engine has no container by that name.
	ErrNotFound = errors.New("container not found")

	// ErrConflict is returned when a name already exists. Create is
	// idempotent by name: callers treat conflict as success-after-inspect.
	ErrConflict = errors.New("container name already exists")
)

// State is the engine's authoritative view of a container.
type State struct {
	ID      string
	Status  string // engine status string: running, exited, created, ...
	IP      string // address in the configured network, if attached
	Running bool
}

// ExecResult is the outcome of a run-to-completion exec.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Stream is a duplex byte channel attached to an in-container process.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Resize resizes the PTY backing the stream. Lossy; only the latest
	// geometry matters.
	Resize(ctx context.Context, rows, cols uint) error

	// Close closes the channel. Idempotent. Closing the channel must not
	// kill the remote process group beyond what the engine does on detach.
	Close() error
}

// Runtime is the capability boundary over the container engine. It is the
// only component permitted to talk to the engine; everything else is written
// against this interface so the test harness can substitute a local backend.
type Runtime interface {
	Create(ctx context.Context, spec *types.ContainerSpec) (string, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, grace time.Duration) error
	Remove(ctx context.Context, name string) error
	Inspect(ctx context.Context, name string) (*State, error)

	// Logs returns the last tail lines of container output.
	Logs(ctx context.Context, name string, tail int) (string, error)

	// ExecUnary runs argv to completion inside the container as user.
	ExecUnary(ctx context.Context, name string, argv []string, user string, env []string) (*ExecResult, error)

	// ExecStream starts argv attached to a duplex byte channel. tty selects
	// PTY allocation; stdin is always attached.
	ExecStream(ctx context.Context, name string, argv []string, user string, env []string, tty bool) (Stream, error)
}

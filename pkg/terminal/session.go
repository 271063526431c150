package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/runtime"
)

// screenrcPath is where the multiplexer config is written inside the
// container.
const screenrcPath = "/tmp/.aisu_screenrc"

// screenrcContent keeps the multiplexer invisible to the user: no escape
// key (the browser terminal owns all input), no bells or banners, deep
// scrollback, 256-color terminal.
const screenrcContent = "escape \"\"\n" +
	"vbell off\n" +
	"autodetach on\n" +
	"startup_message off\n" +
	"defscrollback 10000\n" +
	"term xterm-256color\n"

// Session binds a duplex exec to a long-lived GNU screen session inside the
// container. The screen session survives transport disconnects; only the
// attached exec is ephemeral.
//
// screen rather than tmux: tmux refuses to nest, so a tmux-based backend
// would break users who run tmux themselves. screen and tmux coexist.
type Session struct {
	runtime       runtime.Runtime
	containerName string
	execUser      string

	// SessionID names this session; the screen session name derives from
	// its first 8 characters.
	SessionID string

	screenSession string
	stream        runtime.Stream
	logger        zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewSession creates a terminal session for a container. A zero sessionID
// generates a fresh one.
func NewSession(rt runtime.Runtime, containerName, execUser, sessionID string) *Session {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Session{
		runtime:       rt,
		containerName: containerName,
		execUser:      execUser,
		SessionID:     sessionID,
		screenSession: "term_" + sessionID[:8],
		logger:        log.WithSessionID(sessionID),
	}
}

// ScreenSession returns the multiplexer session name.
func (s *Session) ScreenSession() string {
	return s.screenSession
}

// Start writes the multiplexer config, spawns the detached screen session,
// and attaches a TTY exec stream to it.
func (s *Session) Start(ctx context.Context) error {
	// Config content travels as a positional shell argument, not as script
	// text.
	_, exitCode, err := s.exec(ctx, []string{
		"sh", "-c", `printf '%s' "$1" > ` + screenrcPath, "sh", screenrcContent,
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to write screen config: exit %d", exitCode)
	}

	out, exitCode, err := s.exec(ctx, []string{
		"screen", "-c", screenrcPath, "-dmS", s.screenSession,
	})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to create screen session %s: exit %d, output %q", s.screenSession, exitCode, out)
	}

	stream, err := s.runtime.ExecStream(ctx, s.containerName, []string{
		"screen", "-c", screenrcPath, "-r", s.screenSession,
	}, s.execUser, []string{"TERM=xterm-256color"}, true)
	if err != nil {
		return fmt.Errorf("failed to attach to screen session: %w", err)
	}
	s.stream = stream

	s.logger.Debug().Str("screen", s.screenSession).Msg("terminal session attached")
	return nil
}

func (s *Session) exec(ctx context.Context, argv []string) (string, int, error) {
	result, err := s.runtime.ExecUnary(ctx, s.containerName, argv, s.execUser, []string{"TERM=xterm-256color"})
	if err != nil {
		return "", -1, err
	}
	return string(result.Stdout), result.ExitCode, nil
}

// Read reads the next chunk of container output. After Close it returns
// empty bytes.
func (s *Session) Read(buf []byte) (int, error) {
	s.mu.Lock()
	stream, closed := s.stream, s.closed
	s.mu.Unlock()

	if stream == nil || closed {
		return 0, nil
	}
	n, err := stream.Read(buf)
	if err != nil {
		s.mu.Lock()
		closed = s.closed
		s.mu.Unlock()
		if closed {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// Write sends user input to the container.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	stream, closed := s.stream, s.closed
	s.mu.Unlock()

	if stream == nil || closed {
		return nil
	}
	_, err := stream.Write(data)
	return err
}

// Resize resizes the attached exec's PTY; screen adapts to it.
func (s *Session) Resize(ctx context.Context, rows, cols uint) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	return stream.Resize(ctx, rows, cols)
}

// Close closes the attached exec stream. The screen session is deliberately
// left running so a later attach finds the shell intact. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("error closing exec stream")
		}
	}
}

// IsClosed reports whether Close has run.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// KillScreenSession terminates the multiplexer session. Called only on a
// deliberate window close, never on transport disconnect.
func (s *Session) KillScreenSession(ctx context.Context) error {
	_, _, err := s.exec(ctx, []string{"screen", "-S", s.screenSession, "-X", "quit"})
	return err
}

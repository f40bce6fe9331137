// Package localshell runs the session on a local shell process. It is meant
// for development and tests; the process reads commands from stdin without a
// terminal, so there is no prompt and no echo.
package localshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/transport"
	"go.uber.org/zap"
)

const DefaultShell = "bash"

var ErrClosed = errors.New("local shell is closed")

type Shell struct {
	name   string
	dir    string
	logger *zap.SugaredLogger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	obs   transport.Observers
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ strategy.RemoteShell = (*Shell)(nil)

type Option func(*Shell)

func WithDir(dir string) Option {
	return func(s *Shell) {
		s.dir = dir
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Shell) {
		if l != nil {
			s.logger = l
		}
	}
}

// Start launches name (bash when empty) with stdout and stderr merged into
// one stream.
func Start(name string, opts ...Option) (*Shell, error) {
	if name == "" {
		name = DefaultShell
	}
	s := &Shell{name: name, logger: zap.NewNop().Sugar(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}

	cmd := exec.Command(name)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PS1=")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	s.cmd = cmd
	s.stdin = stdin

	go func() {
		if err := transport.Pump(pr, &s.obs); err != nil {
			s.logger.Debugf("localshell: output pump stopped: %v", err)
		}
	}()
	go func() {
		err := cmd.Wait()
		s.logger.Debugf("localshell: %s exited: %v", name, err)
		_ = pw.Close()
		close(s.done)
	}()
	return s, nil
}

func (s *Shell) WriteRaw(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.stdin.Write(p)
	return err
}

func (s *Shell) AddOutputObserver(fn func([]byte)) func() {
	return s.obs.Add(fn)
}

// ExecOneShot runs command in a separate process with separate streams.
func (s *Shell) ExecOneShot(ctx context.Context, command string) (strategy.ExecResult, error) {
	cmd := exec.CommandContext(ctx, s.name, "-c", command)
	cmd.Dir = s.dir

	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb

	err := cmd.Run()
	res := strategy.ExecResult{Stdout: outb.String(), Stderr: errb.String()}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return res, err
		}
		res.ExitCode = ee.ExitCode()
	}
	return res, nil
}

func (s *Shell) Info() types.SessionInfo {
	host, _ := os.Hostname()
	return types.SessionInfo{Host: host, User: os.Getenv("USER"), Shell: s.name}
}

// Echoes is false: stdin is a pipe, not a terminal.
func (s *Shell) Echoes() bool { return false }

// Done is closed once the shell process has exited.
func (s *Shell) Done() <-chan struct{} { return s.done }

func (s *Shell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	select {
	case <-s.done:
	default:
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	}
	return nil
}

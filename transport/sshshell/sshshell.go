// Package sshshell drives a remote login shell over SSH. One PTY session
// carries the live shell; one-shot commands open their own exec sessions on
// the same connection.
package sshshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/transport"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort        = 22
	DefaultDialTimeout = 15 * time.Second
	DefaultTerm        = "xterm"
	DefaultCols        = 200
	DefaultRows        = 50
)

var (
	ErrClosed     = errors.New("ssh session is closed")
	ErrNoAuth     = errors.New("no ssh authentication method available")
	ErrNoExitCode = errors.New("remote command ended without an exit status")
)

type Config struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	Password   string
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification. Tests only.
	InsecureIgnoreHostKey bool

	DialTimeout time.Duration
	Term        string
	Cols        int
	Rows        int
}

func (c Config) addr() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type Shell struct {
	cfg    Config
	logger *zap.SugaredLogger

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	obs     transport.Observers
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ strategy.RemoteShell = (*Shell)(nil)

type Option func(*Shell)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Shell) {
		if l != nil {
			s.logger = l
		}
	}
}

// Dial connects, authenticates and starts an interactive shell on a PTY.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Shell, error) {
	s := &Shell{cfg: cfg, logger: zap.NewNop().Sugar(), done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.DialTimeout <= 0 {
		s.cfg.DialTimeout = DefaultDialTimeout
	}

	clientCfg, closeAgent, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	client, err := dialClient(ctx, s.cfg.addr(), clientCfg, s.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	s.client = client

	if err := s.startShell(); err != nil {
		_ = client.Close()
		return nil, err
	}

	s.logger.Debugf("sshshell: connected to %s as %s", s.cfg.addr(), s.cfg.User)
	return s, nil
}

func dialClient(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) {
			return nil, fmt.Errorf("host key verification failed for %s: %w", addr, err)
		}
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func (s *Shell) clientConfig() (*ssh.ClientConfig, func(), error) {
	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	var (
		methods    []ssh.AuthMethod
		closeAgent = func() {}
	)
	if s.cfg.KeyFile != "" {
		signer, err := loadSigner(s.cfg.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closeAgent = func() { _ = conn.Close() }
		} else {
			s.logger.Debugf("sshshell: ssh-agent unavailable: %v", err)
		}
	}
	if s.cfg.Password != "" {
		methods = append(methods, ssh.Password(s.cfg.Password))
	}
	if len(methods) == 0 {
		return nil, nil, ErrNoAuth
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            methods,
		HostKeyCallback: hostKeys,
		Timeout:         s.cfg.DialTimeout,
	}, closeAgent, nil
}

func (s *Shell) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := s.cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", path, err)
	}
	return cb, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	return signer, nil
}

func (s *Shell) startShell() error {
	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open shell session: %w", err)
	}

	term := s.cfg.Term
	if term == "" {
		term = DefaultTerm
	}
	cols, rows := s.cfg.Cols, s.cfg.Rows
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, rows, cols, modes); err != nil {
		_ = session.Close()
		return fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return err
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		return fmt.Errorf("failed to start remote shell: %w", err)
	}

	s.session = session
	s.stdin = stdin

	go func() {
		if err := transport.Pump(stdout, &s.obs); err != nil {
			s.logger.Debugf("sshshell: output pump stopped: %v", err)
		}
	}()
	go func() {
		err := session.Wait()
		s.logger.Debugf("sshshell: remote shell ended: %v", err)
		close(s.done)
	}()
	return nil
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

// ExecOneShot runs command in its own exec session. A cancelled context kills
// the remote command and returns the context error.
func (s *Shell) ExecOneShot(ctx context.Context, command string) (strategy.ExecResult, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return strategy.ExecResult{}, ErrClosed
	}

	session, err := s.client.NewSession()
	if err != nil {
		return strategy.ExecResult{}, fmt.Errorf("failed to open exec session: %w", err)
	}
	defer session.Close()

	var outb, errb bytes.Buffer
	session.Stdout = &outb
	session.Stderr = &errb

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return strategy.ExecResult{}, ctx.Err()
	case err = <-errCh:
	}

	res := strategy.ExecResult{Stdout: outb.String(), Stderr: errb.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return res, ErrNoExitCode
	}
	return res, err
}

func (s *Shell) Info() types.SessionInfo {
	return types.SessionInfo{Host: s.cfg.Host, User: s.cfg.User}
}

// Echoes is false: the PTY is requested with ECHO off.
func (s *Shell) Echoes() bool { return false }

// Done is closed once the remote shell has ended.
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
	_ = s.session.Close()
	return s.client.Close()
}

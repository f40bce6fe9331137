package idle

import (
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/types"
	"go.uber.org/zap"
)

const (
	DefaultWarningAfter = 15 * time.Second
	DefaultStalledAfter = 45 * time.Second
)

type Kind string

const (
	KindWarning Kind = "warning"
	KindStalled Kind = "stalled"
)

type Event struct {
	Kind Kind
	Idle types.IdleEvent
}

type Config struct {
	WarningAfter time.Duration
	StalledAfter time.Duration
}

// Normalize applies defaults and coerces a hard threshold that does not
// exceed the soft one to three times the soft one.
func (c Config) Normalize() Config {
	if c.WarningAfter <= 0 {
		c.WarningAfter = DefaultWarningAfter
	}
	if c.StalledAfter <= 0 {
		c.StalledAfter = DefaultStalledAfter
	}
	if c.StalledAfter <= c.WarningAfter {
		c.StalledAfter = 3 * c.WarningAfter
	}
	return c
}

// Manager watches one command's output for silence. Each timer fires at most
// once per silence window; new output starts a new window.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	clock   core.Clock
	tail    func() string
	handler func(Event)
	logger  *zap.SugaredLogger

	softGen uint64
	hardGen uint64
	soft    core.Timer
	hard    core.Timer

	lastOutput time.Time
	started    bool
	disposed   bool
}

type Option func(*Manager)

func WithClock(c core.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(cfg Config, tail func() string, handler func(Event), opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.Normalize(),
		clock:   core.NewRealClock(),
		tail:    tail,
		handler: handler,
		logger:  zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.started {
		return
	}
	m.started = true
	m.lastOutput = m.clock.Now()
	m.armSoftLocked()
	m.armHardLocked()
}

// Touch records new output: both timers restart.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.started {
		return
	}
	m.lastOutput = m.clock.Now()
	m.armSoftLocked()
	m.armHardLocked()
}

// ResetHardTimer re-arms only the stalled timer, without new output.
func (m *Manager) ResetHardTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.started {
		return
	}
	m.armHardLocked()
}

func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.disposed = true
	m.softGen++
	m.hardGen++
	stopTimer(m.soft)
	stopTimer(m.hard)
	m.soft, m.hard = nil, nil
}

func (m *Manager) armSoftLocked() {
	stopTimer(m.soft)
	m.softGen++
	gen := m.softGen
	m.soft = m.clock.AfterFunc(m.cfg.WarningAfter, func() { m.fire(KindWarning, gen) })
}

func (m *Manager) armHardLocked() {
	stopTimer(m.hard)
	m.hardGen++
	gen := m.hardGen
	m.hard = m.clock.AfterFunc(m.cfg.StalledAfter, func() { m.fire(KindStalled, gen) })
}

func (m *Manager) fire(kind Kind, gen uint64) {
	m.mu.Lock()
	current := m.softGen
	if kind == KindStalled {
		current = m.hardGen
	}
	if m.disposed || gen != current {
		m.mu.Unlock()
		return
	}
	silence := m.clock.Now().Sub(m.lastOutput)
	handler := m.handler
	m.mu.Unlock()

	var tail string
	if m.tail != nil {
		tail = m.tail()
	}
	m.logger.Debugf("idle %s silence=%s", kind, silence)

	if handler != nil {
		handler(Event{Kind: kind, Idle: types.IdleEvent{Silence: silence, Tail: tail}})
	}
}

func stopTimer(t core.Timer) {
	if t != nil {
		t.Stop()
	}
}

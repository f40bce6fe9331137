package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubjectPrefix = internal.EventSubject

// Publisher is the part of *nats.Conn the sink uses.
//
//go:generate mockgen -destination=publishermocks_test.go -package=events_test github.com/kardolus/shellpilot/agent/events Publisher
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON on <prefix>.<kind>.
type NATSSink struct {
	pub    Publisher
	prefix string
	runID  string
	logger *zap.SugaredLogger
	conn   *nats.Conn
}

type NATSOption func(*NATSSink)

func WithSubjectPrefix(prefix string) NATSOption {
	return func(s *NATSSink) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRunID stamps every message with the run it belongs to.
func WithRunID(id string) NATSOption {
	return func(s *NATSSink) {
		s.runID = id
	}
}

func WithNATSLogger(l *zap.SugaredLogger) NATSOption {
	return func(s *NATSSink) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewNATSSink(pub Publisher, opts ...NATSOption) *NATSSink {
	s := &NATSSink{pub: pub, prefix: DefaultSubjectPrefix, logger: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DialNATS connects to url and returns a sink owning the connection.
func DialNATS(url string, opts ...NATSOption) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("shellpilot"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	s := NewNATSSink(nc, opts...)
	s.conn = nc
	return s, nil
}

type envelope struct {
	RunID string `json:"run_id,omitempty"`
	types.ProgressEvent
}

func (s *NATSSink) Subject(kind types.EventKind) string {
	return s.prefix + "." + string(kind)
}

// Publish never fails the run; delivery errors are logged.
func (s *NATSSink) Publish(ev types.ProgressEvent) {
	data, err := json.Marshal(envelope{RunID: s.runID, ProgressEvent: ev})
	if err != nil {
		s.logger.Warnf("events: failed to encode %s: %v", ev.Kind, err)
		return
	}
	if err := s.pub.Publish(s.Subject(ev.Kind), data); err != nil {
		s.logger.Warnf("events: failed to publish %s: %v", ev.Kind, err)
	}
}

// Close flushes pending messages and closes a connection opened by DialNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

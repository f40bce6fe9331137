package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/config"
	"github.com/kardolus/shellpilot/internal"
	"github.com/kardolus/shellpilot/records"
	"github.com/kardolus/shellpilot/transport"
	"github.com/kardolus/shellpilot/transport/localshell"
	"github.com/kardolus/shellpilot/transport/sshshell"
	"go.uber.org/zap"
)

type remoteShell interface {
	strategy.RemoteShell
	Info() types.SessionInfo
	Echoes() bool
	Close() error
}

type session struct {
	remoteShell
	info types.SessionInfo
}

// connect opens the configured transport and probes the session details.
func connect(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*session, error) {
	var (
		shell remoteShell
		err   error
	)
	s := cfg.Session
	if s.Local {
		shell, err = localshell.Start(s.Shell, localshell.WithLogger(logger))
	} else {
		if s.Host == "" {
			return nil, errors.New("no host configured: pass --host or --local")
		}
		shell, err = sshshell.Dial(ctx, sshshell.Config{
			Host:       s.Host,
			Port:       s.Port,
			User:       s.User,
			KeyFile:    s.KeyFile,
			Password:   cfg.SessionPassword(),
			KnownHosts: s.KnownHosts,
		}, sshshell.WithLogger(logger))
	}
	if err != nil {
		return nil, err
	}

	known := shell.Info()
	if known.Shell == "" {
		known.Shell = s.Shell
	}
	info := transport.Probe(ctx, shell, known)
	logger.Debugf("session host=%s user=%s shell=%s os=%s", info.Host, info.User, info.Shell, info.OS)
	return &session{remoteShell: shell, info: info}, nil
}

// newStrategy builds the configured strategy. A live remote session gets a
// prompt hook when its shell supports one; the local shell has no prompt and
// always uses boundary markers.
func newStrategy(ctx context.Context, cfg config.Config, sess *session, logger *zap.SugaredLogger) (strategy.Strategy, error) {
	if cfg.Session.Strategy == config.StrategyBatch {
		return strategy.NewBatchStrategy(sess, strategy.WithLogger(logger)), nil
	}

	live := strategy.NewLiveSessionStrategy(sess,
		strategy.WithShell(sess.info.Shell),
		strategy.WithPromptPattern(cfg.Session.PromptPattern),
		strategy.WithEcho(sess.Echoes()),
		strategy.WithLogger(logger),
	)
	if cfg.Session.Local {
		return live, nil
	}
	mode, err := live.Setup(ctx)
	if err != nil {
		live.Dispose()
		return nil, err
	}
	logger.Debugf("live session completion mode=%s", mode)
	return live, nil
}

func openStore(cfg config.RecordsConfig) (records.Store, func(), error) {
	path := cfg.Path
	if path == "" {
		home, err := internal.GetDataHome()
		if err != nil {
			return nil, nil, err
		}
		path = home
		if cfg.Backend == config.BackendSQLite {
			path = filepath.Join(home, "records.db")
		}
	}

	if cfg.Backend == config.BackendSQLite {
		s, err := records.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return records.NewFileStore(path), func() {}, nil
}

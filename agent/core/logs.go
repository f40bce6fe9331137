package core

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logs are the two per-run file loggers: a human transcript and a JSONL debug log.
type Logs struct {
	Dir       string
	HumanPath string
	DebugPath string

	HumanLogger *zap.SugaredLogger
	DebugLogger *zap.SugaredLogger

	HumanZap *zap.Logger
	DebugZap *zap.Logger

	humanFile *os.File
	debugFile *os.File
}

func (l *Logs) Close() {
	if l == nil {
		return
	}
	// best-effort; ignore errors
	if l.HumanZap != nil {
		_ = l.HumanZap.Sync()
	}
	if l.DebugZap != nil {
		_ = l.DebugZap.Sync()
	}
	if l.humanFile != nil {
		_ = l.humanFile.Close()
	}
	if l.debugFile != nil {
		_ = l.debugFile.Close()
	}
}

// NewLogs creates <baseDir>/<runID>/ and opens run.transcript.log and run.debug.jsonl in it.
func NewLogs(baseDir, runID string) (*Logs, error) {
	dir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	humanPath := filepath.Join(dir, "run.transcript.log")
	debugPath := filepath.Join(dir, "run.debug.jsonl")

	humanSug, humanZap, humanFile, err := newFileLogger(humanPath, zapcore.InfoLevel, false /* json */)
	if err != nil {
		return nil, err
	}

	debugSug, debugZap, debugFile, err := newFileLogger(debugPath, zapcore.DebugLevel, true /* json */)
	if err != nil {
		_ = humanZap.Sync()
		_ = humanFile.Close()
		return nil, err
	}

	return &Logs{
		Dir:         dir,
		HumanPath:   humanPath,
		DebugPath:   debugPath,
		HumanLogger: humanSug,
		DebugLogger: debugSug.With("run", runID),
		HumanZap:    humanZap,
		DebugZap:    debugZap,
		humanFile:   humanFile,
		debugFile:   debugFile,
	}, nil
}

// NopLogs discards everything; used when no log directory is configured.
func NopLogs() *Logs {
	nop := zap.NewNop()
	return &Logs{HumanLogger: nop.Sugar(), DebugLogger: nop.Sugar(), HumanZap: nop, DebugZap: nop}
}

func newFileLogger(path string, level zapcore.Level, json bool) (*zap.SugaredLogger, *zap.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if json {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(f), level)
	zl := zap.New(core)
	return zl.Sugar(), zl, f, nil
}

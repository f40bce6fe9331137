package internal

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LevelSet map[zapcore.Level]bool

func (ls LevelSet) Enabled(l zapcore.Level) bool {
	return ls[l]
}

var logLevels = LevelSet{zapcore.InfoLevel: true}

func SetAllowedLogLevels(levels ...zapcore.Level) {
	newLevels := make(LevelSet)
	for _, lvl := range levels {
		newLevels[lvl] = true
	}
	logLevels = newLevels
	InitLogger()
}

// LevelsFor returns the stdout levels for the CLI verbosity flags.
func LevelsFor(verbose bool) []zapcore.Level {
	if verbose {
		return []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel}
	}
	return []zapcore.Level{zapcore.InfoLevel}
}

func InitLogger() {
	zap.ReplaceGlobals(NewConsoleLogger(os.Stdout, os.Stderr))
}

// NewConsoleLogger tees INFO/DEBUG (filtered by the allowed set) to out and WARN+ to errOut.
func NewConsoleLogger(out, errOut io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "", // Disable timestamp
		LevelKey:      "", // Disable log level
		CallerKey:     "", // Disable caller
		FunctionKey:   "", // Disable function name
		StacktraceKey: "", // Disable stacktrace
		MessageKey:    "msg",
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	stdoutWriter := zapcore.Lock(zapcore.AddSync(out))
	stderrWriter := zapcore.Lock(zapcore.AddSync(errOut))

	levels := logLevels
	stdoutCore := zapcore.NewCore(consoleEncoder, stdoutWriter, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.WarnLevel && levels.Enabled(l)
	}))

	// WARN, ERROR, and FATAL logs → stderr (always enabled)
	stderrCore := zapcore.NewCore(consoleEncoder, stderrWriter, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.WarnLevel
	}))

	return zap.New(zapcore.NewTee(stdoutCore, stderrCore))
}

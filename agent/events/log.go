package events

import (
	"strings"

	"github.com/kardolus/shellpilot/agent/types"
	"go.uber.org/zap"
)

// LogSink writes transcript lines to a zap logger. Output chunks go to the
// debug level so the transcript stays readable.
type LogSink struct {
	logger *zap.SugaredLogger
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ev types.ProgressEvent) {
	switch ev.Kind {
	case types.EventOutput:
		if chunk := strings.TrimRight(ev.Chunk, "\n"); chunk != "" {
			s.logger.Debugw("output", "step", ev.StepID, "chunk", chunk)
		}
	case types.EventPlanFailed, types.EventBudgetExhausted, types.EventAgentStuck, types.EventStepFailed:
		s.logger.Warn(Format(ev))
	case types.EventIdleWarning, types.EventIdleStalled, types.EventPromptDetected:
		s.logger.Debug(Format(ev))
	default:
		s.logger.Info(Format(ev))
	}
}

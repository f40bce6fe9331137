package events

import (
	"github.com/kardolus/shellpilot/agent/types"
)

// Sink consumes progress events. Publish must not block the executor for long.
type Sink interface {
	Publish(ev types.ProgressEvent)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(types.ProgressEvent)

func (f SinkFunc) Publish(ev types.ProgressEvent) { f(ev) }

// Fanout delivers every event to each sink in order.
type Fanout []Sink

func NewFanout(sinks ...Sink) Fanout {
	var out Fanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f Fanout) Publish(ev types.ProgressEvent) {
	for _, s := range f {
		s.Publish(ev)
	}
}

// Emitter returns an executor callback that publishes to the fan-out.
func (f Fanout) Emitter() types.Emitter {
	return func(ev types.ProgressEvent) {
		f.Publish(ev)
	}
}

// Drain publishes everything from ch until it is closed and returns the
// last event seen, normally the terminal one.
func Drain(ch <-chan types.ProgressEvent, sink Sink) types.ProgressEvent {
	var last types.ProgressEvent
	for ev := range ch {
		if sink != nil {
			sink.Publish(ev)
		}
		last = ev
	}
	return last
}

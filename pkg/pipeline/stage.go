// Package pipeline runs a meeting's stage chain.
//
// A chain is an ordered list of stages connected by channels of Frames:
// a Source first, Processors in the middle and a Sink last. The same value
// may appear at both ends (a meeting transport is both where audio comes
// from and where it goes). Each stage runs in its own goroutine; when a
// stage returns, its output channel is closed so shutdown cascades down
// the chain.
//
// # Usage
//
//	rt := pipeline.NewRuntime(pipeline.WithLogger(logger))
//	err := rt.Init(ctx, []pipeline.Stage{transport, stt, text, tts, transport},
//	    pipeline.Registration{AgentID: meetingID, WorkerURL: host})
//	...
//	rt.Deinit(ctx)
package pipeline

import (
	"context"
	"errors"
)

// Common errors returned by the runtime.
var (
	ErrInvalidChain   = errors.New("pipeline: invalid stage chain")
	ErrAlreadyRunning = errors.New("pipeline: already running")
	ErrNotRunning     = errors.New("pipeline: not running")
)

// Stage is any element of a chain.
type Stage interface {
	// Name identifies the stage in logs and status output.
	Name() string
}

// Source produces frames into the chain. Produce returns when ctx is done
// or the source is exhausted.
type Source interface {
	Stage
	Produce(ctx context.Context, out chan<- Frame) error
}

// Processor transforms frames. Process returns when in is closed or ctx is
// done. Frames it does not handle should be forwarded unchanged.
type Processor interface {
	Stage
	Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error
}

// Sink consumes frames at the end of the chain.
type Sink interface {
	Stage
	Consume(ctx context.Context, in <-chan Frame) error
}

// Starter is implemented by stages that need to connect before frames
// flow. Start is called once per distinct stage, in chain order, before
// any goroutine is launched.
type Starter interface {
	Start(ctx context.Context) error
}

// Registration identifies the agent a chain runs for and the worker and
// account context it reports to.
type Registration struct {
	AgentID   string `json:"agentId"`
	WorkerURL string `json:"workerUrl"`
	AccountID string `json:"accountId"`
	APIToken  string `json:"-"`
}

// ValidateChain checks the shape of a stage chain: at least two stages, a
// Source first, a Sink last and Processors in between.
func ValidateChain(stages []Stage) error {
	if len(stages) < 2 {
		return errorf("need at least 2 stages, got %d", len(stages))
	}
	for i, s := range stages {
		if s == nil {
			return errorf("stage %d is nil", i)
		}
	}
	if _, ok := stages[0].(Source); !ok {
		return errorf("first stage %q is not a source", stages[0].Name())
	}
	last := stages[len(stages)-1]
	if _, ok := last.(Sink); !ok {
		return errorf("last stage %q is not a sink", last.Name())
	}
	for _, s := range stages[1 : len(stages)-1] {
		if _, ok := s.(Processor); !ok {
			return errorf("stage %q is not a processor", s.Name())
		}
	}
	return nil
}

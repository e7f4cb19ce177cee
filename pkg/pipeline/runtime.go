package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the capacity of the channel between two stages.
const DefaultBufferSize = 64

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithBufferSize sets the channel capacity between stages.
func WithBufferSize(n int) Option {
	return func(r *Runtime) {
		if n >= 0 {
			r.bufferSize = n
		}
	}
}

// WithErrorHandler sets a callback for stage failures.
func WithErrorHandler(fn func(stage string, err error)) Option {
	return func(r *Runtime) { r.onError = fn }
}

// Runtime drives one stage chain.
type Runtime struct {
	logger     *slog.Logger
	bufferSize int
	onError    func(stage string, err error)

	mu      sync.Mutex
	stages  []Stage
	reg     Registration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	err     error
	running bool
}

// NewRuntime creates an idle runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		logger:     slog.Default(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "pipeline")
	return r
}

// Init validates and starts the chain. The chain is copied; later changes
// to the caller's slice have no effect. Stages keep running after ctx is
// done; only Deinit stops them.
func (r *Runtime) Init(ctx context.Context, stages []Stage, reg Registration) error {
	if err := ValidateChain(stages); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	chain := append([]Stage(nil), stages...)
	unique := distinct(chain)

	for i, s := range unique {
		st, ok := s.(Starter)
		if !ok {
			continue
		}
		if err := st.Start(ctx); err != nil {
			closeStages(unique[:i+1], r.logger)
			return fmt.Errorf("pipeline: start %s: %w", s.Name(), err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.stages = chain
	r.reg = reg
	r.cancel = cancel
	r.done = make(chan struct{})
	r.err = nil
	r.running = true

	links := make([]chan Frame, len(chain)-1)
	for i := range links {
		links[i] = make(chan Frame, r.bufferSize)
	}

	for i, s := range chain {
		r.wg.Add(1)
		go r.runStage(runCtx, i, s, links)
	}

	done := r.done
	go func() {
		r.wg.Wait()
		close(done)
	}()

	r.logger.Info("pipeline started",
		"agent_id", reg.AgentID,
		"worker_url", reg.WorkerURL,
		"stages", stageNames(chain),
	)
	return nil
}

func (r *Runtime) runStage(ctx context.Context, i int, s Stage, links []chan Frame) {
	defer r.wg.Done()

	var err error
	switch {
	case i == 0:
		out := links[0]
		err = s.(Source).Produce(ctx, out)
		close(out)
	case i == len(links):
		err = s.(Sink).Consume(ctx, links[i-1])
	default:
		out := links[i]
		err = s.(Processor).Process(ctx, links[i-1], out)
		close(out)
	}

	if err == nil || errors.Is(err, context.Canceled) {
		r.logger.Debug("stage stopped", "stage", s.Name())
		return
	}

	r.logger.Error("stage failed", "stage", s.Name(), "error", err)
	r.mu.Lock()
	if r.err == nil {
		r.err = fmt.Errorf("pipeline: %s: %w", s.Name(), err)
	}
	cancel := r.cancel
	onError := r.onError
	r.mu.Unlock()

	if onError != nil {
		onError(s.Name(), err)
	}
	// One failed stage stops the chain.
	if cancel != nil {
		cancel()
	}
}

// Deinit stops every stage, waits for them to return and closes stages
// that implement io.Closer. Deinit on an idle runtime is a no-op.
func (r *Runtime) Deinit(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	chain := r.stages
	r.mu.Unlock()

	cancel()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("pipeline: waiting for stages: %w", ctx.Err())
		r.logger.Warn("stages did not stop before deadline")
	}

	closeErr := closeStages(distinct(chain), r.logger)

	r.mu.Lock()
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("pipeline stopped", "agent_id", r.reg.AgentID)
	return errors.Join(waitErr, closeErr)
}

// Running reports whether the chain has been started and not deinitialized.
func (r *Runtime) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when every stage goroutine has returned. It is nil before
// the first Init.
func (r *Runtime) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err returns the first stage failure, if any.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stages returns the names of the running chain in order.
func (r *Runtime) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return stageNames(r.stages)
}

// Registration returns what the chain was started with.
func (r *Runtime) Registration() Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg
}

func stageNames(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}

// distinct returns stages in order with repeats removed.
func distinct(stages []Stage) []Stage {
	out := make([]Stage, 0, len(stages))
	seen := make(map[Stage]bool, len(stages))
	for _, s := range stages {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func closeStages(stages []Stage, logger *slog.Logger) error {
	var errs []error
	for _, s := range stages {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("stage close failed", "stage", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

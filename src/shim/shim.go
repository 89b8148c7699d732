package shim

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "worker-host/shim"

// Event describes one entrypoint call.
type Event struct {
	ID         string
	Entrypoint Capability
	Started    time.Time
	Duration   time.Duration
	Err        error
}

// Observer is told about every entrypoint call once it returns.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Option configures a Shim.
type Option func(*Shim)

// WithSetup sets the process-wide setup action.
func WithSetup(fn func(context.Context) error) Option {
	return func(s *Shim) { s.setupFn = fn }
}

// WithEnv sets the env passed to every module call.
func WithEnv(env *Env) Option {
	return func(s *Shim) { s.env = env }
}

// WithFailurePolicy sets what happens after setup, module load or start
// fail. The default is RetryOnFailure.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Shim) { s.policy = p }
}

func WithObserver(o Observer) Option {
	return func(s *Shim) { s.observer = o }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Shim) { s.logger = l }
}

// Shim is the lazy initialization gate in front of a handler module.
type Shim struct {
	setupFn  func(context.Context) error
	env      *Env
	policy   FailurePolicy
	observer Observer
	logger   *log.Logger
	tracer   trace.Tracer

	setup  *Gate
	start  *Gate
	module *Lazy[Module]
}

// New creates a Shim that obtains its module from load on first use.
func New(load Loader, opts ...Option) *Shim {
	s := &Shim{
		logger: log.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.env == nil {
		s.env = NewEnv(nil, nil)
	}
	if load == nil {
		load = func(context.Context) (Module, error) {
			return nil, ErrModuleNotFound
		}
	}

	s.setup = NewGate(s.policy)
	s.start = NewGate(s.policy)
	s.module = NewLazy[Module](load, s.policy)
	return s
}

// Env returns the env handed to the module.
func (s *Shim) Env() *Env {
	return s.env
}

// EnsureInitialized runs the setup action unless it already completed.
func (s *Shim) EnsureInitialized(ctx context.Context) error {
	err := s.setup.Do(ctx, func(ctx context.Context) error {
		if s.setupFn == nil {
			return nil
		}
		return s.setupFn(ctx)
	})
	if err != nil {
		return &InitError{Stage: "setup", Err: err}
	}
	return nil
}

// RunStartupHook calls mod's Start once per Shim. Modules without a start
// hook are skipped.
func (s *Shim) RunStartupHook(ctx context.Context, mod Module) error {
	starter, ok := mod.(Starter)
	if !ok {
		return nil
	}
	err := s.start.Do(ctx, func(ctx context.Context) error {
		return starter.Start(ctx, s.env)
	})
	if err != nil {
		return &InitError{Stage: "start", Err: err}
	}
	return nil
}

// Fetch delegates an HTTP request to the module's fetch handler.
func (s *Shim) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	var resp *Response
	err := s.invoke(ctx, CapFetch, func(ctx context.Context, mod Module) error {
		h, ok := mod.(FetchHandler)
		if !ok {
			return missing(CapFetch)
		}
		var err error
		resp, err = h.Fetch(ctx, req, s.env)
		return err
	})
	return resp, err
}

// Scheduled delegates a cron trigger to the module's scheduled handler.
func (s *Shim) Scheduled(ctx context.Context, event *ScheduledEvent) error {
	return s.invoke(ctx, CapScheduled, func(ctx context.Context, mod Module) error {
		h, ok := mod.(ScheduledHandler)
		if !ok {
			return missing(CapScheduled)
		}
		return h.Scheduled(ctx, event, s.env)
	})
}

// Queue delegates a message batch to the module's queue handler.
func (s *Shim) Queue(ctx context.Context, batch *MessageBatch) error {
	return s.invoke(ctx, CapQueue, func(ctx context.Context, mod Module) error {
		h, ok := mod.(QueueHandler)
		if !ok {
			return missing(CapQueue)
		}
		return h.Queue(ctx, batch, s.env)
	})
}

func (s *Shim) invoke(ctx context.Context, entrypoint Capability, call func(context.Context, Module) error) error {
	ev := Event{
		ID:         uuid.NewString(),
		Entrypoint: entrypoint,
		Started:    time.Now(),
	}
	ctx, span := s.tracer.Start(ctx, "shim."+string(entrypoint),
		trace.WithAttributes(attribute.String("invocation.id", ev.ID)))
	defer span.End()

	err := s.dispatch(ctx, call)

	ev.Duration = time.Since(ev.Started)
	ev.Err = err
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Printf("[%s] %s failed: %v", ev.ID, entrypoint, err)
	}
	if s.observer != nil {
		s.observer.Observe(ev)
	}
	return err
}

func (s *Shim) dispatch(ctx context.Context, call func(context.Context, Module) error) error {
	if err := s.EnsureInitialized(ctx); err != nil {
		return err
	}
	mod, err := s.module.Get(ctx)
	if err != nil {
		return &InitError{Stage: "load module", Err: err}
	}
	if err := s.RunStartupHook(ctx, mod); err != nil {
		return err
	}
	return call(ctx, mod)
}

func missing(c Capability) error {
	return fmt.Errorf("%w: %s", ErrMissingCapability, c)
}

// Status is a snapshot of the shim's gates.
type Status struct {
	Setup        State        `json:"setup"`
	Module       State        `json:"module"`
	Startup      State        `json:"startup"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Status reports initialization progress. Capabilities are only listed once
// the module has been loaded.
func (s *Shim) Status() Status {
	st := Status{
		Setup:   s.setup.State(),
		Module:  s.module.State(),
		Startup: s.start.State(),
	}
	if s.module.Loaded() {
		if mod, err := s.module.Get(context.Background()); err == nil {
			st.Capabilities = Capabilities(mod)
		}
	}
	return st
}

// Package dispatch routes decoded tool commands to their registered
// capability handlers. The registry is the single closed set of tools: it
// serves both as the decoder's catalog and as the handler table, so a
// command that decoded successfully always has a handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"toolcall/internal/command"
	"toolcall/internal/logger"
)

// Handler implements one capability. It may perform arbitrary I/O; deadlines
// and timeouts are the handler's own responsibility (the dispatcher imposes
// none), though callers can bound an invocation through ctx.
type Handler func(ctx context.Context, cmd command.Command) (string, error)

// CapabilityError wraps a failure inside a registered handler. Handler
// errors are never propagated raw so a failing capability cannot take down
// the conversation loop.
type CapabilityError struct {
	Tool string
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Tool, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

var _ command.Catalog = (*Registry)(nil)

// Registry maps tool identifiers to their spec and handler. Handlers are
// registered once at startup and never mutated afterwards; the registry is
// passed explicitly to whoever needs it instead of living in a global.
type Registry struct {
	mux      sync.RWMutex
	logger   logger.Logger
	specs    map[string]command.Spec
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		logger:   logger.NoOp(),
		specs:    map[string]command.Spec{},
		handlers: map[string]Handler{},
	}
}

func (r *Registry) SetLogger(logger logger.Logger) *Registry {
	r.logger = logger
	return r
}

// Register binds a handler to a tool spec. Registering the same tool twice
// or a nil handler is a programming error and fails loudly.
func (r *Registry) Register(spec command.Spec, handler Handler) error {
	if spec.Tool == "" {
		return errors.New("cannot register a spec without a tool identifier")
	}
	if handler == nil {
		return fmt.Errorf("cannot register a nil handler for %s", spec.Tool)
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, ok := r.handlers[spec.Tool]; ok {
		return fmt.Errorf("tool %s is already registered", spec.Tool)
	}
	r.specs[spec.Tool] = spec
	r.handlers[spec.Tool] = handler
	return nil
}

// Lookup implements command.Catalog.
func (r *Registry) Lookup(tool string) (command.Spec, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	spec, ok := r.specs[tool]
	return spec, ok
}

// Specs returns the registered specs sorted by tool identifier, for prompt
// building and introspection.
func (r *Registry) Specs() []command.Spec {
	r.mux.RLock()
	defer r.mux.RUnlock()
	specs := make([]command.Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Tool < specs[j].Tool })
	return specs
}

// Dispatch invokes the handler for cmd and returns its text result. Any
// handler error (or panic) comes back as a *CapabilityError.
func (r *Registry) Dispatch(ctx context.Context, cmd command.Command) (string, error) {
	r.mux.RLock()
	handler, ok := r.handlers[cmd.Tool()]
	r.mux.RUnlock()
	if !ok {
		// unreachable when cmd came through Decode against this registry
		return "", &CapabilityError{Tool: cmd.Tool(), Err: errors.New("no handler registered")}
	}
	r.logger.Debug("dispatching %s", cmd.Tool())
	result, err := r.invoke(ctx, handler, cmd)
	if err != nil {
		r.logger.Error("capability %s failed: %v", cmd.Tool(), err)
		return "", &CapabilityError{Tool: cmd.Tool(), Err: err}
	}
	return result, nil
}

func (r *Registry) invoke(ctx context.Context, handler Handler, cmd command.Command) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler(ctx, cmd)
}

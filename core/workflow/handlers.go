package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Invoker performs the side-effecting action of a node subtype against a
// resolved config and returns its structured result.
type Invoker interface {
	Invoke(ctx context.Context, subtype string, config, data map[string]any) (map[string]any, error)
}

// Handler executes one integration subtype.
type Handler interface {
	Handle(ctx context.Context, config, data map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, config, data map[string]any) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, config, data map[string]any) (map[string]any, error) {
	return f(ctx, config, data)
}

// Registry maps subtypes to handlers and implements Invoker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register installs h for subtype, replacing any previous handler.
func (r *Registry) Register(subtype string, h Handler) {
	if subtype == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[subtype] = h
}

// RegisterFunc is Register for plain functions.
func (r *Registry) RegisterFunc(subtype string, fn HandlerFunc) {
	r.Register(subtype, fn)
}

// Has reports whether subtype has a handler.
func (r *Registry) Has(subtype string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[subtype]
	return ok
}

// Subtypes lists registered subtypes in sorted order.
func (r *Registry) Subtypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches to the handler for subtype. Unregistered subtypes return
// an error wrapping ErrUnknownSubtype.
func (r *Registry) Invoke(ctx context.Context, subtype string, config, data map[string]any) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[subtype]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubtype, subtype)
	}
	return h.Handle(ctx, config, data)
}

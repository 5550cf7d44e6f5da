package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// handlerFunc serves one registered method. It returns a result or a
// structured error, never both.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *RPCError)

// registry is the sealed method table. Registration happens once during
// server construction; after that the table is read-only, so lookups need
// no locking.
type registry struct {
	handlers map[string]handlerFunc
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]handlerFunc)}
}

// register adds a method. Empty names and duplicates are wiring bugs and
// panic immediately rather than surfacing at request time.
func (r *registry) register(method string, h handlerFunc) {
	if method == "" {
		panic("gateway: registering method with empty name")
	}
	if h == nil {
		panic(fmt.Sprintf("gateway: registering nil handler for %q", method))
	}
	if _, exists := r.handlers[method]; exists {
		panic(fmt.Sprintf("gateway: duplicate method %q", method))
	}
	r.handlers[method] = h
}

// dispatch runs the handler for method, or reports an unrecognized command.
func (r *registry) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *RPCError) {
	h, ok := r.handlers[method]
	if !ok {
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("unrecognized command: %q", method),
		}
	}
	return h(ctx, params)
}

// methods returns the registered method names, sorted.
func (r *registry) methods() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

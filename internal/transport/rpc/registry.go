// Package rpc defines the explicit method registration table the transport
// serves. Each logical method maps a name to a handler and a kind, either
// request-response or request-stream; the HTTP layer dispatches by name
// without knowing anything about the domain.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind distinguishes request-response methods from request-stream ones.
type Kind string

const (
	KindUnary  Kind = "unary"
	KindStream Kind = "stream"
)

// UnaryHandler serves one request and returns one response value.
type UnaryHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// StreamHandler serves a request by pushing zero or more frames through
// send until it returns. A returned error after frames have been sent is a
// terminal stream error; send returning an error means the client is gone
// and the handler should stop.
type StreamHandler func(ctx context.Context, payload json.RawMessage, send func(any) error) error

// Method is one registered entry.
type Method struct {
	Name        string
	Kind        Kind
	RequireAuth bool
	Unary       UnaryHandler
	Stream      StreamHandler
}

// Registry is the method table. Registration happens once during wiring;
// lookups are read-only afterwards, so no locking is needed.
type Registry struct {
	methods map[string]Method
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Unary registers a request-response method. Duplicate names panic: the
// table is assembled at startup and a collision is a programming error.
func (r *Registry) Unary(name string, requireAuth bool, handler UnaryHandler) {
	r.add(Method{Name: name, Kind: KindUnary, RequireAuth: requireAuth, Unary: handler})
}

// Stream registers a request-stream method.
func (r *Registry) Stream(name string, requireAuth bool, handler StreamHandler) {
	r.add(Method{Name: name, Kind: KindStream, RequireAuth: requireAuth, Stream: handler})
}

func (r *Registry) add(m Method) {
	if _, exists := r.methods[m.Name]; exists {
		panic(fmt.Sprintf("rpc: method %q registered twice", m.Name))
	}
	r.methods[m.Name] = m
}

// Lookup resolves a method by name.
func (r *Registry) Lookup(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

// Methods returns all registered methods sorted by name.
func (r *Registry) Methods() []Method {
	out := make([]Method, 0, len(r.methods))
	for _, m := range r.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

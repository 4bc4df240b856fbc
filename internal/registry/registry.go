// Package registry is the closed set of pipeline stage handlers.
//
// The Registry maps the stage names used in worker requests (for example
// "torch2onnx") to the compiled Go handlers that implement them. It is
// populated once at startup, in both the driver and every worker process,
// and then validated so that a pipeline can never name a stage that has no
// handler behind it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Stage is the contract implemented by every pipeline stage handler.
type Stage interface {
	// Name is the stable identifier used in worker requests.
	Name() string
	// NewInput returns a pointer to a fresh input struct for the stage, used
	// as the JSON decode target on the worker side.
	NewInput() any
	// Run executes the stage to completion. input is always the value
	// produced by NewInput.
	Run(ctx context.Context, input any) error
}

// Registry holds the registered stage handlers for one process.
type Registry struct {
	stages map[string]Stage
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds a stage handler. Registering two handlers under the same
// name is a programmer error.
func (r *Registry) Register(s Stage) {
	name := s.Name()
	if _, exists := r.stages[name]; exists {
		panic(fmt.Sprintf("stage handler with name '%s' already registered", name))
	}
	slog.Debug("Registering stage handler.", "name", name)
	r.stages[name] = s
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Names returns the registered stage names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every required stage name has a registered handler.
// A miss is a mismatch between the pipeline and the registered handlers, so
// it is reported as an error rather than discovered mid-run.
func (r *Registry) Validate(required ...string) error {
	for _, name := range required {
		if _, ok := r.stages[name]; !ok {
			return fmt.Errorf("pipeline requires stage '%s' but no handler is registered for it", name)
		}
	}
	return nil
}

// Package emitter delivers run reports to their destinations.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/nightshift/pkg/resource"
)

// Emitter outputs a run report to a backend.
type Emitter interface {
	// Emit sends the report to the backend.
	Emit(ctx context.Context, rep *resource.Report) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
// Nil emitters are dropped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Len returns the number of backends.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}

// Emit sends to every emitter. One backend failing does not stop the others;
// all errors are joined.
func (m *MultiEmitter) Emit(ctx context.Context, rep *resource.Report) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

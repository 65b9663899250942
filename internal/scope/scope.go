// Package scope provides a cleanup boundary: revert actions registered on a
// Scope run exactly once, newest first, when the scope closes.
package scope

import (
	"errors"
	"fmt"
)

// Scope collects revert actions. The zero value is not usable; use New.
type Scope struct {
	actions []func()
	closed  bool
	done    chan struct{}
}

// New opens an empty scope.
func New() *Scope {
	return &Scope{done: make(chan struct{})}
}

// Add registers a revert action. Adding to a closed scope runs the action
// immediately so nothing registered late is ever leaked.
func (s *Scope) Add(action func()) {
	if action == nil {
		return
	}
	if s.closed {
		_ = run(action)
		return
	}
	s.actions = append(s.actions, action)
}

// Close runs every registered action in reverse order. Only the first call
// does anything. A panicking action does not stop the others; panics are
// returned as one joined error.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	var errs []error
	for i := len(s.actions) - 1; i >= 0; i-- {
		if err := run(s.actions[i]); err != nil {
			errs = append(errs, err)
		}
		s.actions[i] = nil
	}
	s.actions = nil
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	return s.closed
}

// Done is closed when the scope closes, for waits that live outside the
// frame scheduler.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// Len returns the number of pending revert actions.
func (s *Scope) Len() int {
	return len(s.actions)
}

func run(action func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scope: revert action panicked: %v", r)
		}
	}()
	action()
	return nil
}

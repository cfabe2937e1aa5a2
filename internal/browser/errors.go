package browser

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotInitialized = errors.New("browser: session not initialized")

type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser: launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("browser: navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

type ElementNotFoundError struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("browser: element %q not found within %s", e.Selector, e.Timeout)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// InteractionError covers click/type failures, including calls on a session
// that was never launched or is already closed.
type InteractionError struct {
	Op       string
	Selector string
	Err      error
}

func (e *InteractionError) Error() string {
	if e.Selector == "" {
		return fmt.Sprintf("browser: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("browser: %s %q: %v", e.Op, e.Selector, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

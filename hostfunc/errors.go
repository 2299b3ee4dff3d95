package hostfunc

import "fmt"

// notFoundError implements dispatcher.NotFoundError structurally (error +
// NotFound() bool) without hostfunc importing dispatcher.
type notFoundError struct {
	name string
}

func (e notFoundError) Error() string  { return fmt.Sprintf("hostfunc: no function registered as %q", e.name) }
func (e notFoundError) NotFound() bool { return true }

// coercionError reports an argument-coercion failure: wrong arity, or a
// parameter kind outside the closed set. The call frame carries no per-slot
// kind tag, so a slot the guest encoded as a different kind is not detected
// here; it is reinterpreted as the registered parameter's kind.
type coercionError struct {
	reason string
}

func (e *coercionError) Error() string { return "hostfunc: " + e.reason }

func coerceErr(format string, args ...any) error {
	return &coercionError{reason: fmt.Sprintf(format, args...)}
}

// invalidRegistrationError is returned by Register for a function signature
// outside spec.md §4.7's closed parameter/return type set or arity bound.
type invalidRegistrationError struct {
	reason string
}

func (e *invalidRegistrationError) Error() string { return "hostfunc: " + e.reason }

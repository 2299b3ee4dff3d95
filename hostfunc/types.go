// Package hostfunc maps Go functions to spec.md §4.7's host-function
// registry: function-name -> {invocable, parameter_types, return_type},
// drawn from the closed set {i32, i64, u64, bool, string, bytes, ptr}, with
// non-widening argument coercion (each slot is read as the registered kind;
// the wire carries no per-argument kind to check against).
//
// Grounded on the teacher's lack of any reflective dispatch (the teacher
// has no host-function surface at all — its guest is a fixed boot blob);
// this package instead follows spec.md §9's design note directly: "replace
// [bytecode-emitted marshaling] with a code-generated or macro-expanded
// table... a one-time reflect.Type walk captured in a closure serves the
// same purpose". Registration performs that walk once; invocation replays
// the captured coercion/boxing closures.
package hostfunc

// GuestPtr distinguishes the `ptr` parameter/return kind from a plain
// `uint64`/`u64` value in a registered Go function's signature — both wrap
// the same 8-byte wire value, but a `ptr` kind means "a guest-relative
// address", not "a 64-bit integer".
type GuestPtr uint64

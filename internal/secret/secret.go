// Package secret provides a small opaque wrapper around sensitive values
// (client secrets, master keys, private key bytes) so they never leak into
// logs, error strings, or %v formatting by accident.
package secret

import "log/slog"

// Value wraps a sensitive value of type T. Its zero value is safe to use.
// The only way to read the wrapped value is the explicit Expose call — this
// makes every read site searchable and auditable.
type Value[T any] struct {
	inner T
}

// New wraps v in a Value.
func New[T any](v T) Value[T] {
	return Value[T]{inner: v}
}

// Expose returns the wrapped value. Callers must not log or persist the
// result without re-wrapping it.
func (v Value[T]) Expose() T {
	return v.inner
}

// String implements fmt.Stringer, redacting the wrapped value so that
// accidental %v/%s formatting or string concatenation cannot leak it.
func (v Value[T]) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for the same reason as String.
func (v Value[T]) GoString() string {
	return "secret.Value[REDACTED]"
}

// LogValue implements slog.LogValuer so that passing a Value directly as a
// log attribute never leaks the wrapped value.
func (v Value[T]) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// MarshalJSON redacts by default; API responses that must reveal a secret
// exactly once (e.g. client registration) serialize the raw string field
// directly rather than through a Value wrapper, per spec §6.1.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

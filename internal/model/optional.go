package model

// Optional is a field update for a nullable column. It distinguishes
// "leave unchanged" (the zero value), "set to null" and "set to value".
type Optional[T any] struct {
	set   bool
	value *T
}

// Unchanged returns an Optional that leaves the column as is.
func Unchanged[T any]() Optional[T] {
	return Optional[T]{}
}

// SetNull returns an Optional that clears the column.
func SetNull[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// SetValue returns an Optional that writes v.
func SetValue[T any](v T) Optional[T] {
	return Optional[T]{set: true, value: &v}
}

// Unchanged reports whether the column is left untouched.
func (o Optional[T]) Unchanged() bool { return !o.set }

// IsNull reports whether the column is set to null.
func (o Optional[T]) IsNull() bool { return o.set && o.value == nil }

// Value returns the value to write and whether there is one.
func (o Optional[T]) Value() (T, bool) {
	if o.value == nil {
		var zero T
		return zero, false
	}
	return *o.value, true
}

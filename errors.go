package datum

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common framework failures. They can be matched
// with errors.Is through any number of wrapping layers.
var (
	// ErrEntityNotFound indicates the requested entity does not exist in
	// the underlying store.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPropertyNotFound indicates a property lookup against entity
	// metadata failed.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrNotManaged indicates a type has no mapping metadata, usually
	// because it is not a struct type.
	ErrNotManaged = errors.New("type is not managed")

	// ErrInvalidConfig indicates the provided configuration is invalid or
	// incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error kinds categorize errors by their origin.
const (
	// KindNotFound covers lookups for entities or properties that do not
	// exist.
	KindNotFound = "not_found"

	// KindValidation covers entities rejected by their validation rules.
	KindValidation = "validation"

	// KindMapping covers metadata discovery and property access failures.
	KindMapping = "mapping"

	// KindConflict covers optimistic locking failures.
	KindConflict = "conflict"

	// KindConfiguration covers invalid framework or adapter configuration.
	KindConfiguration = "configuration"

	// KindStorage covers failures raised by a storage adapter.
	KindStorage = "storage"

	// KindInternal covers internal framework errors.
	KindInternal = "internal"
)

// Error wraps an underlying error with the operation that failed and the
// category of failure. It supports errors.Is and errors.As.
//
// Example:
//
//	err := &datum.Error{
//	    Op:   "Framework.Populate",
//	    Kind: datum.KindStorage,
//	    Err:  err,
//	}
type Error struct {
	// Op is the operation that failed, such as "Framework.Register".
	Op string

	// Kind categorizes the error, such as KindMapping.
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries optional debugging details such as entity names or
	// ids.
	Context map[string]any
}

// Error formats the operation, kind and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("datum: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("datum: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("datum: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind (and op, when the target carries
// one), and otherwise delegates to the underlying error.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}
	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the given context merged
// in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	clone := *e
	clone.Context = make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		clone.Context[k] = v
	}
	for k, v := range ctx {
		clone.Context[k] = v
	}
	return &clone
}

// E builds an Error for the given operation and kind.
func E(op, kind string, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// GetKind returns the kind of the first *Error in err's chain, or the
// empty string when the chain has none.
func GetKind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries an *Error of the given
// kind.
func IsKind(err error, kind string) bool {
	return GetKind(err) == kind
}

// CloseWithLog closes the resource and logs any error at warning level.
// It is intended for defer statements so cleanup failures are not
// silently dropped. A nil logger falls back to slog.Default.
//
// Example:
//
//	defer datum.CloseWithLog(store, logger, "redis store")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}

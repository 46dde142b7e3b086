package mapping

import "errors"

var (
	// ErrNotStruct is returned when a type other than a struct (or pointer
	// to struct) is handed to the mapping layer.
	ErrNotStruct = errors.New("mapping: not a struct type")

	// ErrNoSuchProperty is returned by property and path lookups.
	ErrNoSuchProperty = errors.New("mapping: no such property")

	// ErrTag is returned when a datum struct tag cannot be applied.
	ErrTag = errors.New("mapping: invalid datum tag")

	// ErrDuplicateRole is returned when two properties claim a role at most
	// one property may hold: id, version, or an audit role.
	ErrDuplicateRole = errors.New("mapping: duplicate property role")

	// ErrCreator is returned when a creator function or its parameter
	// bindings are malformed, or when creation fails.
	ErrCreator = errors.New("mapping: invalid creator")

	// ErrNotAddressable is returned when an accessor is requested for a
	// value that cannot be written through.
	ErrNotAddressable = errors.New("mapping: value is not addressable")

	// ErrNilPath is returned when a property path crosses a nil
	// intermediate value during a read.
	ErrNilPath = errors.New("mapping: nil value in property path")

	// ErrCollectionPath is returned when a property path crosses a slice,
	// array, or map segment at access time.
	ErrCollectionPath = errors.New("mapping: path crosses a collection")

	// ErrStateUnknown is returned by IsNew when an entity has neither a
	// version nor an id property and does not implement Persistable.
	ErrStateUnknown = errors.New("mapping: cannot determine persistence state")

	// ErrConfig is returned when an external mapping configuration document
	// is invalid.
	ErrConfig = errors.New("mapping: invalid mapping config")
)

package repository

import "errors"

var (
	// ErrNotFound is returned by lookups for ids the store does not hold.
	ErrNotFound = errors.New("repository: entity not found")

	// ErrMissingID is returned when an operation needs an id the entity
	// does not carry.
	ErrMissingID = errors.New("repository: entity has no id")

	// ErrVersionConflict is returned when a save or delete carries a stale
	// version.
	ErrVersionConflict = errors.New("repository: version conflict")

	// ErrIDGeneration is returned when a zero id cannot be generated for
	// the id property's type. Only string and uuid ids are generated.
	ErrIDGeneration = errors.New("repository: cannot generate id")

	// ErrIDType is returned when the repository's declared id type does
	// not match the entity's id property.
	ErrIDType = errors.New("repository: id type mismatch")

	// ErrNilEntity is returned when a nil entity pointer is passed in.
	ErrNilEntity = errors.New("repository: nil entity")
)

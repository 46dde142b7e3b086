package callback

import "errors"

// Phase identifies a lifecycle point around persistence operations.
type Phase string

const (
	BeforeCreate Phase = "before-create"
	BeforeSave   Phase = "before-save"
	AfterSave    Phase = "after-save"
	AfterLoad    Phase = "after-load"
	BeforeDelete Phase = "before-delete"
	AfterDelete  Phase = "after-delete"
)

// Phases lists all lifecycle phases in execution order.
func Phases() []Phase {
	return []Phase{BeforeCreate, BeforeSave, AfterSave, AfterLoad, BeforeDelete, AfterDelete}
}

// Valid reports whether the phase is one of the defined lifecycle points.
func (p Phase) Valid() bool {
	switch p {
	case BeforeCreate, BeforeSave, AfterSave, AfterLoad, BeforeDelete, AfterDelete:
		return true
	}
	return false
}

func (p Phase) String() string { return string(p) }

var (
	// ErrPhase is returned when a registration or dispatch names an
	// unknown phase.
	ErrPhase = errors.New("callback: unknown phase")

	// ErrPrototype is returned when a registration prototype cannot be
	// turned into a filter type.
	ErrPrototype = errors.New("callback: invalid prototype")

	// ErrTypeChanged is returned when a callback returns an entity of a
	// different dynamic type than it received.
	ErrTypeChanged = errors.New("callback: entity type changed")
)

// Package validate rejects invalid entities before they are stamped or
// persisted. Entities declare their own rules by implementing
// validation.Validatable from github.com/go-ozzo/ozzo-validation/v4; the
// before-save callback runs those rules ahead of auditing.
package validate

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/datumkit/datum/callback"
)

// CallbackOrder positions validation before audit stamping in the
// before-save phase.
const CallbackOrder = 50

// Callback returns the before-save registration. Only entities implementing
// validation.Validatable are inspected; everything else passes through.
func Callback() callback.Registration {
	return callback.Registration{
		Phase:     callback.BeforeSave,
		Prototype: (*validation.Validatable)(nil),
		Fn: func(ctx context.Context, entity any) (any, error) {
			if err := validation.ValidateWithContext(ctx, entity); err != nil {
				return nil, err
			}
			return entity, nil
		},
		Options: []callback.Option{callback.WithOrder(CallbackOrder), callback.WithName("validate")},
	}
}

// Entity validates a single value on demand, outside the callback chain.
func Entity(ctx context.Context, entity any) error {
	return validation.ValidateWithContext(ctx, entity)
}

package audit

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/mapping"
)

// CallbackOrder positions the audit callback within the before-save phase,
// after validation.
const CallbackOrder = 100

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock replaces the time source, which defaults to time.Now.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithAuditorProvider sets the source of principals for createdby and
// modifiedby properties.
func WithAuditorProvider(p AuditorProvider) HandlerOption {
	return func(h *Handler) { h.provider = p }
}

// WithModifyOnCreate controls whether creating also stamps the modification
// properties. Enabled by default.
func WithModifyOnCreate(enabled bool) HandlerOption {
	return func(h *Handler) { h.modifyOnCreate = enabled }
}

// Handler stamps creation and modification metadata onto entities through
// their mapping metadata. Entities must be passed as pointers so the stamps
// can be written.
type Handler struct {
	mctx           *mapping.Context
	provider       AuditorProvider
	clock          func() time.Time
	modifyOnCreate bool
}

// NewHandler returns a handler bound to a mapping context.
func NewHandler(mctx *mapping.Context, opts ...HandlerOption) *Handler {
	h := &Handler{
		mctx:           mctx,
		clock:          time.Now,
		modifyOnCreate: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MarkCreated stamps the created and createdby properties, plus the
// modification properties unless modify-on-create is disabled.
func (h *Handler) MarkCreated(ctx context.Context, entity any) error {
	e, acc, err := h.accessor(entity)
	if err != nil {
		return err
	}
	now := h.clock()
	if err := stampTime(acc, e, mapping.AuditCreated, now); err != nil {
		return err
	}
	if err := h.stampPrincipal(ctx, acc, e, mapping.AuditCreatedBy); err != nil {
		return err
	}
	if !h.modifyOnCreate {
		return nil
	}
	if err := stampTime(acc, e, mapping.AuditModified, now); err != nil {
		return err
	}
	return h.stampPrincipal(ctx, acc, e, mapping.AuditModifiedBy)
}

// MarkModified stamps the modified and modifiedby properties. Creation
// properties are never rewritten.
func (h *Handler) MarkModified(ctx context.Context, entity any) error {
	e, acc, err := h.accessor(entity)
	if err != nil {
		return err
	}
	if err := stampTime(acc, e, mapping.AuditModified, h.clock()); err != nil {
		return err
	}
	return h.stampPrincipal(ctx, acc, e, mapping.AuditModifiedBy)
}

// Touch stamps the entity for one save: creation marks for new entities,
// modification marks otherwise.
func (h *Handler) Touch(ctx context.Context, entity any, isNew bool) error {
	if isNew {
		return h.MarkCreated(ctx, entity)
	}
	return h.MarkModified(ctx, entity)
}

// Callback returns the before-save registration driving Touch from a
// dispatcher. Entities without audit properties pass through untouched.
func (h *Handler) Callback() callback.Registration {
	return callback.Registration{
		Phase:     callback.BeforeSave,
		Prototype: (*any)(nil),
		Fn:        h.run,
		Options:   []callback.Option{callback.WithOrder(CallbackOrder), callback.WithName("audit")},
	}
}

func (h *Handler) run(ctx context.Context, entity any) (any, error) {
	e, err := h.mctx.EntityOf(entity)
	if err != nil {
		if errors.Is(err, mapping.ErrNotStruct) {
			return entity, nil
		}
		return nil, err
	}
	if !e.IsAudited() {
		return entity, nil
	}

	isNew, err := e.IsNew(entity)
	if err != nil {
		if !errors.Is(err, mapping.ErrStateUnknown) {
			return nil, err
		}
		// No version or id to go by: an empty created stamp means new.
		isNew, err = h.createdZero(e, entity)
		if err != nil {
			return nil, err
		}
	}
	if err := h.Touch(ctx, entity, isNew); err != nil {
		return nil, err
	}
	return entity, nil
}

func (h *Handler) createdZero(e *mapping.Entity, entity any) (bool, error) {
	prop, ok := e.AuditProperty(mapping.AuditCreated)
	if !ok {
		return true, nil
	}
	acc, err := e.Accessor(entity)
	if err != nil {
		return false, err
	}
	v, err := acc.Get(prop)
	if err != nil {
		return false, err
	}
	return v == nil || reflect.ValueOf(v).IsZero(), nil
}

func (h *Handler) accessor(entity any) (*mapping.Entity, *mapping.Accessor, error) {
	e, err := h.mctx.EntityOf(entity)
	if err != nil {
		return nil, nil, err
	}
	acc, err := e.Accessor(entity)
	if err != nil {
		return nil, nil, err
	}
	return e, acc, nil
}

func (h *Handler) stampPrincipal(ctx context.Context, acc *mapping.Accessor, e *mapping.Entity, role mapping.AuditRole) error {
	prop, ok := e.AuditProperty(role)
	if !ok || h.provider == nil {
		return nil
	}
	principal, ok := h.provider.CurrentAuditor(ctx)
	if !ok {
		return nil
	}
	return acc.Set(prop, principal)
}

func stampTime(acc *mapping.Accessor, e *mapping.Entity, role mapping.AuditRole, now time.Time) error {
	prop, ok := e.AuditProperty(role)
	if !ok {
		return nil
	}
	return acc.Set(prop, now)
}

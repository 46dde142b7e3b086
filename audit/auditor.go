package audit

import "context"

// AuditorProvider resolves the principal responsible for the current
// operation. The bool result reports whether a principal is available;
// without one, principal properties are left untouched.
type AuditorProvider interface {
	CurrentAuditor(ctx context.Context) (any, bool)
}

// AuditorFunc adapts a function to an AuditorProvider.
type AuditorFunc func(ctx context.Context) (any, bool)

func (f AuditorFunc) CurrentAuditor(ctx context.Context) (any, bool) { return f(ctx) }

// StaticAuditor always reports the same principal, typically the service
// name of a non-interactive process.
func StaticAuditor(principal any) AuditorProvider {
	return AuditorFunc(func(context.Context) (any, bool) {
		return principal, principal != nil
	})
}

type auditorKey struct{}

// WithAuditor returns a context carrying the current principal for
// ContextAuditor to pick up.
func WithAuditor(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, auditorKey{}, principal)
}

// ContextAuditor reads the principal installed by WithAuditor, the natural
// provider for request-scoped identities.
type ContextAuditor struct{}

func (ContextAuditor) CurrentAuditor(ctx context.Context) (any, bool) {
	v := ctx.Value(auditorKey{})
	return v, v != nil
}

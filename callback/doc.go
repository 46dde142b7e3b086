// Package callback dispatches ordered, type-filtered callbacks around
// entity lifecycle points: before and after create, save, load and delete.
//
// Callbacks register against a prototype and fire for entities whose
// dynamic type matches it. A struct prototype matches the struct and
// pointers to it, a pointer-to-interface prototype matches implementations,
// and (*any)(nil) matches every entity:
//
//	d := callback.NewDispatcher()
//	_ = callback.On(d, callback.BeforeSave, func(ctx context.Context, u *User) (*User, error) {
//		u.Email = strings.ToLower(u.Email)
//		return u, nil
//	})
//	entity, err := d.Dispatch(ctx, callback.BeforeSave, &User{Email: "ADA@EXAMPLE.COM"})
//
// Within a phase, callbacks run sorted by WithOrder (default 0) with
// registration order breaking ties. Each callback may replace the entity as
// long as the dynamic type stays the same; the first error aborts the
// chain. DispatchAsync delivers the same result on a channel.
package callback

// Package audit stamps creation and modification metadata onto entities:
// timestamps into properties tagged created / modified, principals into
// properties tagged createdby / modifiedby.
//
// A Handler resolves the properties through mapping metadata and the
// principal through an AuditorProvider. Wired into a callback dispatcher it
// stamps automatically before every save:
//
//	h := audit.NewHandler(mctx, audit.WithAuditorProvider(audit.ContextAuditor{}))
//	_ = dispatcher.Add(h.Callback())
//
//	ctx = audit.WithAuditor(ctx, "alice")
//	saved, err := repo.Save(ctx, order) // CreatedAt, CreatedBy stamped
package audit

// Package datum provides an object-mapping framework for Go structs.
//
// Datum reads persistence metadata from struct types once, caches it, and
// drives every store-facing concern off that metadata: property access,
// entity instantiation, auditing stamps, lifecycle callbacks and the
// repository contracts the storage adapters implement.
//
// # Core Concepts
//
// The framework is organized around a few pieces:
//
//   - Entities: struct types whose fields map to named storage properties
//   - Mapping context: the process-wide registry of entity metadata
//   - Accessors and creators: reflective reads, writes and construction
//   - Callbacks: ordered hooks around save, load and delete
//   - Repositories: store-agnostic crud, paging, streaming and watch contracts
//
// # Getting Started
//
// Create a framework instance and register your entity types:
//
//	import "github.com/datumkit/datum"
//
//	fw, err := datum.NewFramework(
//	    datum.WithLogger(logger),
//	    datum.WithValidation(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Close()
//
//	if err := fw.Register(Account{}, Order{}); err != nil {
//	    log.Fatal(err)
//	}
//
// # Entity Mapping
//
// Fields map by snake_case name; the datum tag overrides the storage name
// and marks property roles:
//
//	type Order struct {
//	    ID         string    `datum:",id"`
//	    Reference  string    `datum:"ref_no"`
//	    Version    int64     `datum:",version"`
//	    CreatedAt  time.Time `datum:",created"`
//	    CreatedBy  string    `datum:",createdby"`
//	    ModifiedAt time.Time `datum:",modified"`
//	}
//
// # Repositories
//
// Storage adapters in memstore, redistore, etcdstore and bunstore build
// on the same metadata and run the same lifecycle:
//
//	orders, err := memstore.New[Order, string](fw.Mapping(),
//	    memstore.WithCallbacks(fw.Callbacks()),
//	)
//	saved, err := orders.Save(ctx, Order{Reference: "A-100"})
//
// Saving a new entity generates its id, bumps its version and stamps its
// audit properties; a stale version fails with
// repository.ErrVersionConflict.
//
// # Error Handling
//
// The framework uses sentinel errors and a structured Error type. Store
// lookups report repository.ErrNotFound; framework operations wrap their
// causes with an operation and a kind:
//
//	if errors.Is(err, repository.ErrNotFound) {
//	    // the entity does not exist
//	}
//	if datum.IsKind(err, datum.KindMapping) {
//	    // the type could not be managed
//	}
//
// # Observability
//
// The instrument package wraps any repository with OpenTelemetry spans
// and metrics:
//
//	orders := instrument.Repository[Order, string](store,
//	    instrument.WithTracerProvider(fw.TracerProvider()),
//	)
//
// # Thread Safety
//
// The mapping context, the callback dispatcher and every storage adapter
// are safe for concurrent use.
package datum

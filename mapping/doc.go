// Package mapping discovers, caches and exposes reflective metadata about
// domain structs so persistence adapters can map objects to and from storage
// representations without hard-coding reflection logic.
//
// A Context is the registry: it turns struct types into Entity values
// holding ordered Property metadata, identifier and version properties,
// associations, audit roles and an optional creator. Discovery is lazy,
// concurrent and cycle-safe; repeated lookups return the identical Entity.
//
// # Tags
//
// Fields are classified through the datum struct tag. The first segment
// overrides the storage name, the rest are flags:
//
//	type Account struct {
//		ID        string    `datum:",id"`
//		Version   int64     `datum:",version"`
//		Email     string    `datum:"email_address,immutable"`
//		Owner     *User     `datum:",ref"`
//		CreatedAt time.Time `datum:",created"`
//		UpdatedAt time.Time `datum:",modified"`
//		Scratch   []byte    `datum:"-"`
//	}
//
// Untagged fields get snake_case storage names; entity names are pluralized
// (Account maps to "accounts"). A field named ID is the identifier when no
// tag claims one. Anonymous embedded structs are flattened following the
// encoding/json rules; unexported fields are ignored.
//
// # Reading and writing
//
// An Accessor binds an Entity to one instance and reads or writes properties
// with conversion, including dotted paths across nested entities:
//
//	ctx := mapping.NewContext()
//	entity, _ := ctx.EntityOf(Account{})
//	acc, _ := entity.Accessor(&account)
//	city, _ := acc.GetPath("owner.address.city")
//	_ = acc.SetPath("owner.address.city", "Oslo")
//
// # Instantiation
//
// Entity.New builds instances from a ValueSource, a document-like bag of raw
// values. A registered creator replaces plain reflection; its parameters
// bind properties by name or evaluate expressions against the source:
//
//	_ = ctx.UseCreator(Account{},
//		func(email, display string) Account {
//			return Account{Email: email, Display: display}
//		},
//		mapping.Param("Email"),
//		mapping.Expr("root.first + ' ' + root.last"),
//	)
//
// External YAML configuration can override storage names, transience,
// immutability and audit roles per type; see Config.
package mapping

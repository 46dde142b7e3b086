package mapping

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Address struct {
	Street string
	City   string
	Zip    string `datum:"postal_code"`
}

type User struct {
	ID        string `datum:",id"`
	Version   int64  `datum:",version"`
	Email     string `datum:"email_address,immutable"`
	Name      string
	Age       int
	Address   Address
	Tags      []string
	Secret    string `datum:"-"`
	Callback  func()
	CreatedAt time.Time `datum:",created"`
	UpdatedAt time.Time `datum:",modified"`
	CreatedBy string    `datum:",createdby"`
	UpdatedBy string    `datum:",modifiedby"`

	notes string
}

type Base struct {
	ID        string    `datum:",id"`
	CreatedAt time.Time `datum:",created"`
}

type Article struct {
	Base
	Title string
	Body  string
}

type Shadow struct {
	Base
	ID string
}

type Device struct {
	ID   int64
	Name string
}

type Item struct {
	SKU   string `datum:",id"`
	Count int
}

type Order struct {
	ID    string `datum:",id"`
	Buyer *User  `datum:",ref"`
	Items []Item `datum:",ref"`
	Total float64
}

type Node struct {
	ID       string  `datum:",id"`
	Parent   *Node   `datum:",ref"`
	Children []*Node `datum:",ref"`
}

type Manual struct {
	Done bool
}

func (m Manual) IsNew() bool { return !m.Done }

func TestEntityDiscovery(t *testing.T) {
	ctx := NewContext()

	e, err := ctx.EntityOf(User{})
	require.NoError(t, err)
	assert.Equal(t, "users", e.Name())
	assert.Equal(t, reflect.TypeOf(User{}), e.Type())

	require.NotNil(t, e.ID())
	assert.Equal(t, "ID", e.ID().Name())
	require.NotNil(t, e.Version())
	assert.Equal(t, "Version", e.Version().Name())

	email, ok := e.Property("Email")
	require.True(t, ok)
	assert.Equal(t, "email_address", email.StorageName())
	assert.True(t, email.IsImmutable())

	byStorage, ok := e.PropertyByStorageName("email_address")
	require.True(t, ok)
	assert.Same(t, email, byStorage)

	name, ok := e.Property("Name")
	require.True(t, ok)
	assert.Equal(t, "name", name.StorageName())
	assert.False(t, name.IsID())
	assert.False(t, name.IsTransient())

	secret, ok := e.Property("Secret")
	require.True(t, ok)
	assert.True(t, secret.IsTransient())

	cb, ok := e.Property("Callback")
	require.True(t, ok)
	assert.True(t, cb.IsTransient(), "func fields have no storage representation")

	_, ok = e.Property("notes")
	assert.False(t, ok, "unexported fields are ignored")

	created, ok := e.AuditProperty(AuditCreated)
	require.True(t, ok)
	assert.Equal(t, "CreatedAt", created.Name())
	modifiedBy, ok := e.AuditProperty(AuditModifiedBy)
	require.True(t, ok)
	assert.Equal(t, "UpdatedBy", modifiedBy.Name())
	assert.True(t, e.IsAudited())

	for _, p := range e.Persistent() {
		assert.False(t, p.IsTransient())
	}
	assert.Len(t, e.Properties(), len(e.Persistent())+2)
}

func TestEntityEmbedded(t *testing.T) {
	ctx := NewContext()

	e, err := ctx.EntityOf(Article{})
	require.NoError(t, err)

	var names []string
	for _, p := range e.Properties() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"ID", "CreatedAt", "Title", "Body"}, names)

	id, ok := e.Property("ID")
	require.True(t, ok)
	assert.Equal(t, []int{0, 0}, id.Index())
	assert.Same(t, id, e.ID())

	title, ok := e.Property("Title")
	require.True(t, ok)
	assert.Equal(t, []int{1}, title.Index())
}

func TestEntityEmbeddedShadowing(t *testing.T) {
	ctx := NewContext()

	e, err := ctx.EntityOf(Shadow{})
	require.NoError(t, err)

	id, ok := e.Property("ID")
	require.True(t, ok)
	assert.Equal(t, []int{1}, id.Index(), "outer field shadows the embedded one")
	assert.Same(t, id, e.ID())

	_, ok = e.Property("CreatedAt")
	assert.True(t, ok, "non-conflicting embedded fields survive")
}

func TestEntityIDConvention(t *testing.T) {
	ctx := NewContext()

	e, err := ctx.EntityOf(Device{})
	require.NoError(t, err)
	require.NotNil(t, e.ID())
	assert.Equal(t, "ID", e.ID().Name())
	assert.True(t, e.ID().IsID())
	assert.Nil(t, e.Version())
}

func TestEntityAssociations(t *testing.T) {
	ctx := NewContext()

	e, err := ctx.EntityOf(Order{})
	require.NoError(t, err)

	assocs := e.Associations()
	require.Len(t, assocs, 2)

	assert.Equal(t, "Buyer", assocs[0].Property().Name())
	assert.Equal(t, ToOne, assocs[0].Cardinality())
	assert.Equal(t, reflect.TypeOf(User{}), assocs[0].Target())

	assert.Equal(t, "Items", assocs[1].Property().Name())
	assert.Equal(t, ToMany, assocs[1].Cardinality())
	assert.Equal(t, reflect.TypeOf(Item{}), assocs[1].Target())

	buyer, _ := e.Property("Buyer")
	assert.True(t, buyer.IsAssociation())
	total, _ := e.Property("Total")
	assert.False(t, total.IsAssociation())
}

func TestEntityConstructionErrors(t *testing.T) {
	type dupID struct {
		A string `datum:",id"`
		B string `datum:",id"`
	}
	type dupVersion struct {
		A int `datum:",version"`
		B int `datum:",version"`
	}
	type badTag struct {
		A string `datum:"-,id"`
	}
	type unknownFlag struct {
		A string `datum:",primary"`
	}
	type badAudit struct {
		When string `datum:",created"`
	}
	type badVersion struct {
		V string `datum:",version"`
	}
	type badRef struct {
		N int `datum:",ref"`
	}
	type dupStorage struct {
		A string `datum:"x"`
		B string `datum:"x"`
	}

	tests := []struct {
		name  string
		proto any
		want  error
	}{
		{"duplicate id", dupID{}, ErrDuplicateRole},
		{"duplicate version", dupVersion{}, ErrDuplicateRole},
		{"dash with flags", badTag{}, ErrTag},
		{"unknown flag", unknownFlag{}, ErrTag},
		{"created on string", badAudit{}, ErrTag},
		{"string version", badVersion{}, ErrTag},
		{"ref on int", badRef{}, ErrTag},
		{"duplicate storage name", dupStorage{}, ErrTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext()
			_, err := ctx.EntityOf(tt.proto)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEntityNew(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(User{})
	require.NoError(t, err)

	out, err := e.New(MapSource{
		"id":            "u1",
		"email_address": "ada@example.com",
		"name":          "Ada",
		"age":           float64(36),
		"address":       map[string]any{"street": "Main 1", "city": "Oslo", "postal_code": "0150"},
		"tags":          []any{"admin", "staff"},
		"secret":        "ignored",
		"created_at":    "2024-06-01T12:30:00Z",
	}, nil)
	require.NoError(t, err)

	u, ok := out.(*User)
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, 36, u.Age)
	assert.Equal(t, Address{Street: "Main 1", City: "Oslo", Zip: "0150"}, u.Address)
	assert.Equal(t, []string{"admin", "staff"}, u.Tags)
	assert.Empty(t, u.Secret, "transient properties are not populated")
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), u.CreatedAt)
}

func TestEntityNewByFieldName(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(Device{})
	require.NoError(t, err)

	out, err := e.New(MapSource{"ID": int64(7), "Name": "sensor"}, nil)
	require.NoError(t, err)
	d := out.(*Device)
	assert.Equal(t, int64(7), d.ID)
	assert.Equal(t, "sensor", d.Name)
}

func TestEntityIsNew(t *testing.T) {
	ctx := NewContext()

	user, err := ctx.EntityOf(User{})
	require.NoError(t, err)

	isNew, err := user.IsNew(&User{ID: "u1"})
	require.NoError(t, err)
	assert.True(t, isNew, "zero version wins over a populated id")

	isNew, err = user.IsNew(User{ID: "u1", Version: 3})
	require.NoError(t, err)
	assert.False(t, isNew)

	device, err := ctx.EntityOf(Device{})
	require.NoError(t, err)
	isNew, err = device.IsNew(Device{})
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = device.IsNew(Device{ID: 9})
	require.NoError(t, err)
	assert.False(t, isNew)

	manual, err := ctx.EntityOf(Manual{})
	require.NoError(t, err)
	isNew, err = manual.IsNew(Manual{Done: false})
	require.NoError(t, err)
	assert.True(t, isNew)
	isNew, err = manual.IsNew(&Manual{Done: true})
	require.NoError(t, err)
	assert.False(t, isNew)

	type plain struct{ Label string }
	p, err := ctx.EntityOf(plain{})
	require.NoError(t, err)
	_, err = p.IsNew(plain{})
	assert.ErrorIs(t, err, ErrStateUnknown)
}

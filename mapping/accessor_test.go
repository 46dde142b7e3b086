package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessorGetSet(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(User{})
	require.NoError(t, err)

	u := &User{Name: "Ada"}
	acc, err := e.Accessor(u)
	require.NoError(t, err)

	name, _ := e.Property("Name")
	got, err := acc.Get(name)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got)

	require.NoError(t, acc.Set(name, "Grace"))
	assert.Equal(t, "Grace", u.Name)

	// Conversion kicks in when the value type differs.
	age, _ := e.Property("Age")
	require.NoError(t, acc.Set(age, "42"))
	assert.Equal(t, 42, u.Age)

	require.NoError(t, acc.Set(name, nil))
	assert.Empty(t, u.Name)
}

func TestAccessorEmbedded(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(Article{})
	require.NoError(t, err)

	a := &Article{}
	acc, err := e.Accessor(a)
	require.NoError(t, err)

	require.NoError(t, acc.Set(e.ID(), "a1"))
	assert.Equal(t, "a1", a.Base.ID)

	got, err := acc.Get(e.ID())
	require.NoError(t, err)
	assert.Equal(t, "a1", got)
}

func TestAccessorPaths(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(User{})
	require.NoError(t, err)

	u := &User{Address: Address{City: "Oslo"}}
	acc, err := e.Accessor(u)
	require.NoError(t, err)

	city, err := acc.GetPath("address.city")
	require.NoError(t, err)
	assert.Equal(t, "Oslo", city)

	require.NoError(t, acc.SetPath("address.city", "Bergen"))
	assert.Equal(t, "Bergen", u.Address.City)
}

func TestAccessorNilIntermediate(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(Order{})
	require.NoError(t, err)

	o := &Order{}
	acc, err := e.Accessor(o)
	require.NoError(t, err)

	_, err = acc.GetPath("buyer.name")
	assert.ErrorIs(t, err, ErrNilPath)

	// SetPath allocates the missing pointer.
	require.NoError(t, acc.SetPath("buyer.name", "Ada"))
	require.NotNil(t, o.Buyer)
	assert.Equal(t, "Ada", o.Buyer.Name)

	got, err := acc.GetPath("buyer.name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got)
}

func TestAccessorCollectionPath(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(Order{})
	require.NoError(t, err)

	o := &Order{Items: []Item{{SKU: "s1"}}}
	acc, err := e.Accessor(o)
	require.NoError(t, err)

	_, err = acc.GetPath("items.count")
	assert.ErrorIs(t, err, ErrCollectionPath)
	err = acc.SetPath("items.count", 3)
	assert.ErrorIs(t, err, ErrCollectionPath)
}

func TestAccessorValues(t *testing.T) {
	ctx := NewContext()
	e, err := ctx.EntityOf(User{})
	require.NoError(t, err)

	u := &User{ID: "u1", Email: "ada@example.com", Secret: "hidden"}
	acc, err := e.Accessor(u)
	require.NoError(t, err)

	values := acc.Values()
	assert.Equal(t, "u1", values["id"])
	assert.Equal(t, "ada@example.com", values["email_address"])
	_, ok := values["secret"]
	assert.False(t, ok, "transient properties stay out of the storage map")
}

func TestAccessorErrors(t *testing.T) {
	ctx := NewContext()
	user, err := ctx.EntityOf(User{})
	require.NoError(t, err)
	device, err := ctx.EntityOf(Device{})
	require.NoError(t, err)

	_, err = user.Accessor(User{})
	assert.ErrorIs(t, err, ErrNotAddressable)

	_, err = user.Accessor((*User)(nil))
	assert.ErrorIs(t, err, ErrNotAddressable)

	_, err = user.Accessor(&Device{})
	assert.ErrorIs(t, err, ErrNotAddressable)

	acc, err := user.Accessor(&User{})
	require.NoError(t, err)
	foreign := device.ID()
	_, err = acc.Get(foreign)
	assert.ErrorIs(t, err, ErrNoSuchProperty)
	err = acc.Set(foreign, 1)
	assert.ErrorIs(t, err, ErrNoSuchProperty)
}

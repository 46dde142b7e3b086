package mapping

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolve(t *testing.T) {
	ctx := NewContext()

	p, err := ctx.Path(reflect.TypeOf(User{}), "address.city")
	require.NoError(t, err)
	assert.Equal(t, "address.city", p.String())
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "City", p.Leaf().Name())
	assert.Equal(t, "Address", p.Properties()[0].Name())
}

func TestPathByStorageName(t *testing.T) {
	ctx := NewContext()

	p, err := ctx.Path(reflect.TypeOf(User{}), "address.postal_code")
	require.NoError(t, err)
	assert.Equal(t, "Zip", p.Leaf().Name())
}

func TestPathThroughPointer(t *testing.T) {
	ctx := NewContext()

	// Buyer is *User; resolution traverses the pointer at the type level.
	p, err := ctx.Path(reflect.TypeOf(Order{}), "Buyer.Address.City")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Len())
	assert.Equal(t, "City", p.Leaf().Name())
}

func TestPathThroughSliceType(t *testing.T) {
	ctx := NewContext()

	// Items is []Item; the element type carries the path.
	p, err := ctx.Path(reflect.TypeOf(Order{}), "items.count")
	require.NoError(t, err)
	assert.Equal(t, "Count", p.Leaf().Name())
}

func TestPathErrors(t *testing.T) {
	ctx := NewContext()
	userType := reflect.TypeOf(User{})

	tests := []struct {
		name string
		path string
	}{
		{"unknown root", "nope"},
		{"unknown leaf", "address.country"},
		{"empty path", ""},
		{"empty segment", "address..city"},
		{"through simple", "name.length"},
		{"through simple slice", "tags.value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ctx.Path(userType, tt.path)
			assert.ErrorIs(t, err, ErrNoSuchProperty)
		})
	}

	_, err := ctx.Path(reflect.TypeOf(42), "whatever")
	assert.ErrorIs(t, err, ErrNotStruct)
}

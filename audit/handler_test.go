package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/mapping"
)

type Doc struct {
	ID        string `datum:",id"`
	Version   int64  `datum:",version"`
	Title     string
	CreatedAt time.Time  `datum:",created"`
	UpdatedAt *time.Time `datum:",modified"`
	CreatedBy string     `datum:",createdby"`
	UpdatedBy string     `datum:",modifiedby"`
}

type Note struct {
	ID   string `datum:",id"`
	Body string
}

var frozen = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return frozen }

func newHandler(t *testing.T, opts ...HandlerOption) (*Handler, *mapping.Context) {
	t.Helper()
	mctx := mapping.NewContext()
	base := []HandlerOption{WithClock(fixedClock), WithAuditorProvider(StaticAuditor("alice"))}
	return NewHandler(mctx, append(base, opts...)...), mctx
}

func TestMarkCreated(t *testing.T) {
	h, _ := newHandler(t)
	d := &Doc{Title: "draft"}

	require.NoError(t, h.MarkCreated(context.Background(), d))

	assert.Equal(t, frozen, d.CreatedAt)
	assert.Equal(t, "alice", d.CreatedBy)
	require.NotNil(t, d.UpdatedAt, "modify-on-create stamps modification marks too")
	assert.Equal(t, frozen, *d.UpdatedAt)
	assert.Equal(t, "alice", d.UpdatedBy)
}

func TestMarkCreatedWithoutModifyOnCreate(t *testing.T) {
	h, _ := newHandler(t, WithModifyOnCreate(false))
	d := &Doc{}

	require.NoError(t, h.MarkCreated(context.Background(), d))

	assert.Equal(t, frozen, d.CreatedAt)
	assert.Equal(t, "alice", d.CreatedBy)
	assert.Nil(t, d.UpdatedAt)
	assert.Empty(t, d.UpdatedBy)
}

func TestMarkModifiedKeepsCreation(t *testing.T) {
	h, _ := newHandler(t)
	origin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &Doc{CreatedAt: origin, CreatedBy: "bob", Version: 2}

	require.NoError(t, h.MarkModified(context.Background(), d))

	assert.Equal(t, origin, d.CreatedAt, "creation marks are never rewritten")
	assert.Equal(t, "bob", d.CreatedBy)
	require.NotNil(t, d.UpdatedAt)
	assert.Equal(t, frozen, *d.UpdatedAt)
	assert.Equal(t, "alice", d.UpdatedBy)
}

func TestTouch(t *testing.T) {
	h, _ := newHandler(t)

	fresh := &Doc{}
	require.NoError(t, h.Touch(context.Background(), fresh, true))
	assert.Equal(t, frozen, fresh.CreatedAt)

	seen := &Doc{Version: 1}
	require.NoError(t, h.Touch(context.Background(), seen, false))
	assert.True(t, seen.CreatedAt.IsZero())
	require.NotNil(t, seen.UpdatedAt)
}

func TestCallbackStampsByState(t *testing.T) {
	h, _ := newHandler(t)
	d := callback.NewDispatcher()
	require.NoError(t, d.Add(h.Callback()))

	// Version zero makes the entity new.
	out, err := d.Dispatch(context.Background(), callback.BeforeSave, &Doc{})
	require.NoError(t, err)
	fresh := out.(*Doc)
	assert.Equal(t, frozen, fresh.CreatedAt)
	assert.Equal(t, "alice", fresh.CreatedBy)

	// A persisted version leaves creation marks alone.
	origin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err = d.Dispatch(context.Background(), callback.BeforeSave, &Doc{Version: 3, CreatedAt: origin, CreatedBy: "bob"})
	require.NoError(t, err)
	seen := out.(*Doc)
	assert.Equal(t, origin, seen.CreatedAt)
	assert.Equal(t, "bob", seen.CreatedBy)
	require.NotNil(t, seen.UpdatedAt)
	assert.Equal(t, frozen, *seen.UpdatedAt)
}

func TestCallbackIgnoresUnaudited(t *testing.T) {
	h, _ := newHandler(t)
	d := callback.NewDispatcher()
	require.NoError(t, d.Add(h.Callback()))

	in := &Note{ID: "n1", Body: "plain"}
	out, err := d.Dispatch(context.Background(), callback.BeforeSave, in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestContextAuditor(t *testing.T) {
	mctx := mapping.NewContext()
	h := NewHandler(mctx, WithClock(fixedClock), WithAuditorProvider(ContextAuditor{}))

	d := &Doc{}
	ctx := WithAuditor(context.Background(), "carol")
	require.NoError(t, h.MarkCreated(ctx, d))
	assert.Equal(t, "carol", d.CreatedBy)

	// Without a principal the properties stay empty.
	d2 := &Doc{}
	require.NoError(t, h.MarkCreated(context.Background(), d2))
	assert.Empty(t, d2.CreatedBy)
	assert.Equal(t, frozen, d2.CreatedAt, "timestamps do not need a principal")
}

func TestHandlerNeedsPointer(t *testing.T) {
	h, _ := newHandler(t)
	err := h.MarkCreated(context.Background(), Doc{})
	assert.ErrorIs(t, err, mapping.ErrNotAddressable)
}

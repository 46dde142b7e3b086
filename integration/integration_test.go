package integration

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/datumkit/datum"
	"github.com/datumkit/datum/audit"
	"github.com/datumkit/datum/callback"
	"github.com/datumkit/datum/convert"
	"github.com/datumkit/datum/health"
	"github.com/datumkit/datum/instrument"
	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/memstore"
	"github.com/datumkit/datum/populate"
	"github.com/datumkit/datum/repository"
	"github.com/datumkit/datum/validate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Shipment carries the full lifecycle surface: generated id, optimistic
// locking and audit stamps, plus validation rules.
type Shipment struct {
	ID         string `datum:",id"`
	Reference  string
	Carrier    string
	Weight     int
	Version    int64     `datum:",version"`
	CreatedAt  time.Time `datum:",created"`
	CreatedBy  string    `datum:",createdby"`
	ModifiedAt time.Time `datum:",modified"`
	ModifiedBy string    `datum:",modifiedby"`
}

func (s Shipment) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Reference, validation.Required),
		validation.Field(&s.Weight, validation.Min(1)),
	)
}

var fixedNow = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

func newTestFramework(t *testing.T, opts ...datum.FrameworkOption) datum.Framework {
	t.Helper()
	base := []datum.FrameworkOption{
		datum.WithLogger(slog.New(slog.DiscardHandler)),
		datum.WithValidation(),
		datum.WithClock(func() time.Time { return fixedNow }),
		datum.WithAuditorProvider(audit.StaticAuditor("it-tests")),
	}
	fw, err := datum.NewFramework(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Close() })
	return fw
}

func newShipmentStore(t *testing.T, fw datum.Framework) *memstore.Store[Shipment, string] {
	t.Helper()
	store, err := memstore.New[Shipment, string](fw.Mapping(), memstore.WithCallbacks(fw.Callbacks()))
	require.NoError(t, err)
	return store
}

// TestPackageSurfaces pins the types each package is expected to export,
// so a signature change in one package fails here before it fails in a
// downstream consumer.
func TestPackageSurfaces(t *testing.T) {
	t.Run("mapping", func(t *testing.T) {
		var _ *mapping.Context
		var _ *mapping.Entity
		var _ *mapping.Property
		var _ mapping.NamingStrategy = mapping.SnakeNaming{}
		var _ mapping.ValueSource = mapping.MapSource{}
		assert.True(t, true)
	})
	t.Run("convert", func(t *testing.T) {
		var _ convert.Service
		assert.True(t, true)
	})
	t.Run("callback", func(t *testing.T) {
		var _ *callback.Dispatcher
		var _ = callback.BeforeSave
		assert.True(t, true)
	})
	t.Run("audit", func(t *testing.T) {
		var _ *audit.Handler
		var _ audit.AuditorProvider = audit.StaticAuditor("x")
		assert.True(t, true)
	})
	t.Run("validate", func(t *testing.T) {
		var _ = validate.Callback()
		assert.True(t, true)
	})
	t.Run("repository", func(t *testing.T) {
		var _ repository.CrudRepository[Shipment, string] = (*memstore.Store[Shipment, string])(nil)
		var _ repository.PagingRepository[Shipment, string] = (*memstore.Store[Shipment, string])(nil)
		var _ repository.StreamingRepository[Shipment, string] = (*memstore.Store[Shipment, string])(nil)
		var _ repository.WatchableRepository[Shipment, string] = (*memstore.Store[Shipment, string])(nil)
		assert.True(t, true)
	})
	t.Run("instrument", func(t *testing.T) {
		var _ repository.CrudRepository[Shipment, string] = (*instrument.Instrumented[Shipment, string])(nil)
		assert.True(t, true)
	})
	t.Run("health", func(t *testing.T) {
		var _ health.Check = health.Repository[Shipment, string](nil)
		assert.True(t, true)
	})
	t.Run("populate", func(t *testing.T) {
		var _ *populate.Populator = populate.New()
		assert.True(t, true)
	})
	t.Run("datum", func(t *testing.T) {
		var _ datum.Framework
		var _ = datum.ErrEntityNotFound
		assert.True(t, true)
	})
}

// TestEndToEndLifecycle drives one entity through create, update, page,
// stream and delete with validation and auditing active on the store.
func TestEndToEndLifecycle(t *testing.T) {
	fw := newTestFramework(t)
	store := newShipmentStore(t, fw)
	ctx := context.Background()

	t.Run("rejects invalid entities", func(t *testing.T) {
		_, err := store.Save(ctx, Shipment{Carrier: "dhl"})
		require.Error(t, err)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	var id string
	t.Run("creates with audit stamps", func(t *testing.T) {
		saved, err := store.Save(ctx, Shipment{Reference: "SHP-1", Carrier: "dhl", Weight: 12})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, int64(1), saved.Version)
		assert.Equal(t, "it-tests", saved.CreatedBy)
		assert.Equal(t, fixedNow, saved.CreatedAt)
		id = saved.ID
	})

	t.Run("updates bump the version", func(t *testing.T) {
		current, err := store.FindByID(ctx, id)
		require.NoError(t, err)

		current.Weight = 14
		updated, err := store.Save(ctx, current)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, "it-tests", updated.ModifiedBy)

		// The stale snapshot still carries version 1 and must lose.
		_, err = store.Save(ctx, current)
		require.ErrorIs(t, err, repository.ErrVersionConflict)
	})

	t.Run("pages and streams the population", func(t *testing.T) {
		for _, ref := range []string{"SHP-2", "SHP-3", "SHP-4"} {
			_, err := store.Save(ctx, Shipment{Reference: ref, Carrier: "ups", Weight: 5})
			require.NoError(t, err)
		}

		page, err := store.FindPage(ctx, repository.PageRequest(0, 2).
			WithSort(repository.SortBy(repository.Asc("Reference"))))
		require.NoError(t, err)
		assert.Equal(t, int64(4), page.TotalElements)
		require.Len(t, page.Content, 2)
		assert.Equal(t, "SHP-1", page.Content[0].Reference)
		assert.Equal(t, "SHP-2", page.Content[1].Reference)

		items, err := store.StreamAll(ctx)
		require.NoError(t, err)
		streamed := 0
		for item := range items {
			require.NoError(t, item.Err)
			streamed++
		}
		assert.Equal(t, 4, streamed)
	})

	t.Run("deletes are idempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteByID(ctx, id))
		require.NoError(t, store.DeleteByID(ctx, id))

		_, err := store.FindByID(ctx, id)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}

// TestPopulateWorkflow loads YAML fixtures through the framework facade and
// verifies the rows arrive stamped like any other save.
func TestPopulateWorkflow(t *testing.T) {
	dir := t.TempDir()
	doc := `shipments:
  - reference: SHP-100
    carrier: dhl
    weight: 3
  - reference: SHP-101
    carrier: ups
    weight: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shipments.yaml"), []byte(doc), 0o644))

	p := populate.New(populate.WithLogger(slog.New(slog.DiscardHandler))).
		AddResource(filepath.Join(dir, "*.yaml"))
	fw := newTestFramework(t, datum.WithPopulator(p))
	store := newShipmentStore(t, fw)
	require.NoError(t, populate.Bind(p, "shipments", store, fw.Mapping()))

	ctx := context.Background()
	require.NoError(t, fw.Populate(ctx))

	all, err := store.FindAllSorted(ctx, repository.SortBy(repository.Asc("Reference")))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "SHP-100", all[0].Reference)
	assert.Equal(t, 3, all[0].Weight)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, "it-tests", all[0].CreatedBy)
	assert.Equal(t, int64(1), all[0].Version)
}

// TestWatchRepopulates starts the framework watcher and rewrites a fixture
// file, expecting the new rows to land without another Populate call.
func TestWatchRepopulates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shipments.yaml")
	seed := "shipments:\n  - reference: SHP-300\n    carrier: dhl\n    weight: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	p := populate.New(populate.WithLogger(slog.New(slog.DiscardHandler))).AddResource(path)
	fw := newTestFramework(t, datum.WithPopulator(p))
	store := newShipmentStore(t, fw)
	require.NoError(t, populate.Bind(p, "shipments", store, fw.Mapping()))

	ctx := context.Background()
	require.NoError(t, fw.Populate(ctx))
	require.NoError(t, fw.Watch(ctx))

	next := "shipments:\n" +
		"  - reference: SHP-301\n    carrier: ups\n    weight: 4\n" +
		"  - reference: SHP-302\n    carrier: ups\n    weight: 6\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))

	assert.Eventually(t, func() bool {
		n, err := store.Count(ctx)
		return err == nil && n == 3
	}, 5*time.Second, 50*time.Millisecond, "rewritten fixtures never landed")

	require.NoError(t, fw.Close())
}

// TestWatchEventsReachSubscribers pairs the repository change feed with a
// framework-wired store.
func TestWatchEventsReachSubscribers(t *testing.T) {
	fw := newTestFramework(t)
	store := newShipmentStore(t, fw)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := store.Watch(ctx)
	require.NoError(t, err)

	saved, err := store.Save(ctx, Shipment{Reference: "SHP-700", Carrier: "dhl", Weight: 1})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, repository.EventSaved, ev.Kind)
		assert.Equal(t, saved.ID, ev.ID)
		assert.Equal(t, "SHP-700", ev.Entity.Reference)
	case <-time.After(2 * time.Second):
		t.Fatal("no event after save")
	}

	cancel()
	for range events {
	}
}

package bunstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/datumkit/datum/mapping"
	"github.com/datumkit/datum/repository"
)

type Article struct {
	ID      string `datum:",id"`
	Title   string
	Slug    string `datum:",immutable"`
	Views   int
	Version int64 `datum:",version"`
}

type Bookmark struct {
	ID  string `datum:",id"`
	URL string
}

// The tests run against a dialect-only handle: queries render, nothing
// executes.
type nopConnector struct{}

func (nopConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("render-only database")
}

func (nopConnector) Driver() driver.Driver { return nopDriver{} }

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("render-only database")
}

func renderDB(t *testing.T) *bun.DB {
	t.Helper()
	db := bun.NewDB(sql.OpenDB(nopConnector{}), sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newArticleStore(t *testing.T) (*Store[Article, string], *bun.DB) {
	t.Helper()
	db := renderDB(t)
	s, err := New[Article, string](mapping.NewContext(), db)
	require.NoError(t, err)
	return s, db
}

func render(t *testing.T, db *bun.DB, q schema.QueryAppender) string {
	t.Helper()
	b, err := q.AppendQuery(db.Formatter(), nil)
	require.NoError(t, err)
	return string(b)
}

func articleValues() map[string]any {
	return map[string]any{
		"id":      "a1",
		"title":   "First",
		"slug":    "first",
		"views":   3,
		"version": int64(1),
	}
}

func TestNewBindsMetadata(t *testing.T) {
	s, _ := newArticleStore(t)

	assert.Equal(t, "articles", s.table)
	assert.Equal(t, "id", s.idCol)
	assert.Equal(t, "version", s.verCol)
	assert.Equal(t, []string{"id", "title", "slug", "views", "version"}, s.columns)
	assert.Equal(t, []string{"title", "views", "version"}, s.setCols,
		"updates must skip the id and immutable columns")
}

func TestNewRequiresHandle(t *testing.T) {
	_, err := New[Article, string](mapping.NewContext(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil database handle")
}

func TestInsertQueryRender(t *testing.T) {
	s, db := newArticleStore(t)

	got := render(t, db, s.insertQuery(db, articleValues()))
	assert.Contains(t, got, `INSERT INTO "articles"`)
	assert.Contains(t, got, `"slug"`)
	assert.Contains(t, got, `'First'`)
	assert.Contains(t, got, `'first'`)
}

func TestUpdateQueryRender(t *testing.T) {
	s, db := newArticleStore(t)

	prev := int64(2)
	got := render(t, db, s.updateQuery(db, "a1", &prev, s.setValues(articleValues())))
	assert.Contains(t, got, `UPDATE "articles"`)
	assert.Contains(t, got, `"title" = 'First'`)
	assert.Contains(t, got, `WHERE ("id" = 'a1')`)
	assert.Contains(t, got, `("version" = 2)`)
	assert.NotContains(t, got, `"slug" =`, "immutable columns must not be set")
}

func TestUpdateQueryWithoutVersion(t *testing.T) {
	db := renderDB(t)
	s, err := New[Bookmark, string](mapping.NewContext(), db)
	require.NoError(t, err)

	got := render(t, db, s.updateQuery(db, "b1", nil, map[string]any{"url": "https://example.com"}))
	assert.Contains(t, got, `WHERE ("id" = 'b1')`)
	assert.NotContains(t, got, "version")
}

func TestSelectByIDRender(t *testing.T) {
	s, db := newArticleStore(t)

	got := render(t, db, s.selectByID(db, "a1"))
	assert.Contains(t, got, `"id", "title", "slug", "views", "version"`)
	assert.Contains(t, got, `FROM "articles"`)
	assert.Contains(t, got, `WHERE ("id" = 'a1')`)
}

func TestPageQueryPushesSortAndPagingDown(t *testing.T) {
	s, db := newArticleStore(t)

	page := repository.PageRequest(2, 10).
		WithSort(repository.SortBy(repository.Desc("Title"), repository.Asc("views")))
	q, err := s.pageQuery(db, page)
	require.NoError(t, err)

	got := render(t, db, q)
	assert.Contains(t, got, `ORDER BY "title" DESC, "views" ASC, "id" ASC`)
	assert.Contains(t, got, "LIMIT 10")
	assert.Contains(t, got, "OFFSET 20")
}

func TestSortedQueryDefaultsToIDOrder(t *testing.T) {
	s, db := newArticleStore(t)

	q, err := s.sortedQuery(db, repository.Sort{})
	require.NoError(t, err)
	assert.Contains(t, render(t, db, q), `ORDER BY "id" ASC`)
}

func TestSortRejectsUnknownProperty(t *testing.T) {
	s, db := newArticleStore(t)

	_, err := s.sortedQuery(db, repository.SortBy(repository.Asc("nope")))
	require.ErrorIs(t, err, mapping.ErrNoSuchProperty)

	_, err = s.FindAllSorted(context.Background(), repository.SortBy(repository.Asc("nope")))
	require.ErrorIs(t, err, mapping.ErrNoSuchProperty)
}

func TestDeleteQueryRender(t *testing.T) {
	s, db := newArticleStore(t)

	got := render(t, db, s.deleteQuery(db, "a1", nil))
	assert.Contains(t, got, `DELETE FROM "articles"`)
	assert.Contains(t, got, `WHERE ("id" = 'a1')`)

	want := int64(4)
	got = render(t, db, s.deleteQuery(db, "a1", &want))
	assert.Contains(t, got, `("version" = 4)`)

	got = render(t, db, s.deleteAllQuery(db))
	assert.Contains(t, got, `WHERE (1 = 1)`)
}

func TestFindAllByIDEmptyShortCircuits(t *testing.T) {
	s, _ := newArticleStore(t)

	got, err := s.FindAllByID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSetValuesNarrowsToUpdatableColumns(t *testing.T) {
	s, _ := newArticleStore(t)

	set := s.setValues(articleValues())
	assert.Equal(t, map[string]any{"title": "First", "views": 3, "version": int64(1)}, set)
}

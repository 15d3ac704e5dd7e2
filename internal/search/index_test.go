// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package search

import (
	"context"
	"testing"

	"github.com/ManuGH/mediacore/internal/library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func seed(t *testing.T, x *Index) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, x.Put(ctx, "movies", []Document{
		{Type: "media", ID: "movies/amelie.mkv", Title: "Le Fabuleux Destin d'Amélie Poulain", Description: "amelie.mkv"},
		{Type: "media", ID: "movies/alien.mkv", Title: "Alien", Description: "space horror"},
		{Type: "media", ID: "movies/aliens.mkv", Title: "Aliens", Description: "space marines"},
	}))
	require.NoError(t, x.Put(ctx, "docs", []Document{
		{Type: "media", ID: "docs/space.mkv", Title: "Cosmos", Description: "space documentary about alien life"},
	}))
}

func TestSearch_FoldsCaseAndDiacritics(t *testing.T) {
	x := NewIndex(NewMemoryStore())
	seed(t, x)

	res := x.Search("AMELIE", 0)
	require.Len(t, res, 1)
	assert.Equal(t, "movies/amelie.mkv", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
}

func TestSearch_TitleOutranksDescriptionAndTiesByID(t *testing.T) {
	x := NewIndex(NewMemoryStore())
	seed(t, x)

	res := x.Search("alien", 10)
	assert.Equal(t, []string{"movies/alien.mkv", "movies/aliens.mkv", "docs/space.mkv"}, ids(res))
	assert.Greater(t, res[1].Score, res[2].Score)
}

func TestSearch_PartialTermMatch(t *testing.T) {
	x := NewIndex(NewMemoryStore())
	seed(t, x)

	res := x.Search("space alien", 10)
	require.NotEmpty(t, res)
	assert.Equal(t, "docs/space.mkv", res[len(res)-1].ID)
	for _, r := range res {
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestSearch_EmptyQueryAndLimit(t *testing.T) {
	x := NewIndex(NewMemoryStore())
	seed(t, x)

	assert.Empty(t, x.Search("   ", 10))
	assert.Empty(t, x.Search("zzz", 10))
	assert.Len(t, x.Search("alien", 1), 1)
}

func TestPut_ReplacesLibrary(t *testing.T) {
	x := NewIndex(NewMemoryStore())
	seed(t, x)
	require.NoError(t, x.Put(context.Background(), "movies", nil))
	assert.Equal(t, 1, x.Len())
	assert.Equal(t, []string{"docs/space.mkv"}, ids(x.Search("alien", 10)))
}

func TestBadgerStore_RebuildAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	x := NewIndex(st)
	seed(t, x)
	require.NoError(t, x.Put(ctx, "movies", []Document{{Type: "media", ID: "movies/alien.mkv", Title: "Alien"}}))
	require.NoError(t, st.Close())

	st, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer st.Close()
	fresh := NewIndex(st)
	require.NoError(t, fresh.Rebuild(ctx))

	assert.Equal(t, 2, fresh.Len())
	assert.Equal(t, []string{"movies/alien.mkv", "docs/space.mkv"}, ids(fresh.Search("alien", 10)))
}

func TestDocumentsFromItems(t *testing.T) {
	docs := DocumentsFromItems([]library.Item{{LibraryID: "movies", MediaID: "a/b.mkv", Title: "b"}})
	require.Len(t, docs, 1)
	assert.Equal(t, "movies/a/b.mkv", docs[0].ID)
	assert.Equal(t, "media", docs[0].Type)
}

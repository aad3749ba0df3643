package changes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
)

func datasets(ids ...string) []domain.CanonicalDataset {
	out := make([]domain.CanonicalDataset, len(ids))
	for i, id := range ids {
		out[i] = domain.CanonicalDataset{ID: id, Title: id + "-" + string(rune('0'+i))}
	}
	return out
}

func TestDiffCollapsesDuplicatesToFirstOccurrence(t *testing.T) {
	t.Parallel()

	part := Diff(datasets("A", "B", "A", "C"), nil, nil)

	require.Len(t, part.Upserts, 3)
	assert.Equal(t, "A", part.Upserts[0].ID)
	assert.Equal(t, "A-0", part.Upserts[0].Title)
	assert.Equal(t, "B", part.Upserts[1].ID)
	assert.Equal(t, "C", part.Upserts[2].ID)
	assert.Equal(t, []string{"A"}, part.Duplicates)
	assert.Empty(t, part.Deletes)
}

func TestDiffDeletesAreExistingMinusFetched(t *testing.T) {
	t.Parallel()

	existing := map[string]struct{}{"A": {}, "X": {}, "D": {}}
	part := Diff(datasets("A", "B"), existing, nil)

	assert.Equal(t, []string{"D", "X"}, part.Deletes)
	assert.Len(t, part.Upserts, 2)
}

func TestUnchangedByContentHash(t *testing.T) {
	t.Parallel()

	fresh := domain.CanonicalDataset{ID: "n1", ContentHash: "abc"}
	stored := &domain.CanonicalDataset{ID: "n1", Extras: domain.Extras{{Key: domain.ExtraContentHash, Value: "abc"}}}

	assert.True(t, Unchanged(SignalContentHash, fresh, stored))
	fresh.ContentHash = "def"
	assert.False(t, Unchanged(SignalContentHash, fresh, stored))
	assert.False(t, Unchanged(SignalContentHash, fresh, nil))
}

func TestUnchangedByModifiedTimestamp(t *testing.T) {
	t.Parallel()

	stored := &domain.CanonicalDataset{Extras: domain.Extras{{
		Key: domain.ExtraUpstreamMetadataModified, Value: "2023-06-27T10:45:57.284000",
	}}}

	same := domain.CanonicalDataset{MetadataModified: "2023-06-27T10:45:57.284000"}
	newer := domain.CanonicalDataset{MetadataModified: "2023-06-28T00:00:00.000000"}
	missing := domain.CanonicalDataset{}

	assert.True(t, Unchanged(SignalModified, same, stored))
	assert.False(t, Unchanged(SignalModified, newer, stored))
	assert.False(t, Unchanged(SignalModified, missing, stored))
}

func TestContentHashIsStableAndIgnoresStoredHash(t *testing.T) {
	t.Parallel()

	ds := domain.CanonicalDataset{
		ID:        "soda-1",
		Title:     "Trees",
		Resources: []domain.Resource{{ID: "r1", URL: "https://example.org/r1.csv", Format: "csv"}},
	}

	first, err := ContentHash(ds)
	require.NoError(t, err)

	withHash := ds.Clone()
	withHash.ContentHash = first
	withHash.Extras = withHash.Extras.Upsert(domain.ExtraContentHash, first)
	second, err := ContentHash(withHash)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	changed := ds.Clone()
	changed.Title = "Trees v2"
	third, err := ContentHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestEnsureHashKeepsNormalizerHash(t *testing.T) {
	t.Parallel()

	ds := domain.CanonicalDataset{ID: "nomis_x", ContentHash: "tablehash"}
	require.NoError(t, EnsureHash(&ds))
	assert.Equal(t, "tablehash", ds.ContentHash)

	other := domain.CanonicalDataset{ID: "other"}
	require.NoError(t, EnsureHash(&other))
	assert.Len(t, other.ContentHash, 64)
}

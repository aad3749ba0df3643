package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
)

func provenance() Provenance {
	return Provenance{
		SourceID:        "src-1",
		SourceURL:       "https://data.example.org",
		SourceTitle:     "Example DataPress",
		SourceFrequency: "DAILY",
		JobID:           "job-1",
		ObjectID:        "obj-1",
		UpstreamURL:     "https://data.example.org/dataset/d1",
	}
}

func fresh() domain.CanonicalDataset {
	return domain.CanonicalDataset{
		ID:               "d1",
		Name:             "d1",
		MetadataCreated:  "2023-01-01T00:00:00.000000",
		MetadataModified: "2023-06-27T10:45:57.284000",
		ContentHash:      "hash-2",
		Extras:           domain.Extras{{Key: "update_frequency", Value: "monthly"}},
		Resources: []domain.Resource{
			{ID: "0000001", URL: "https://data.example.org/a.csv"},
			{ID: "0000001", URL: "https://data.example.org/a.csv"},
		},
	}
}

func assertUniqueKeys(t *testing.T, extras domain.Extras) {
	t.Helper()
	seen := map[string]bool{}
	for _, e := range extras {
		require.False(t, seen[e.Key], "duplicate extra %s", e.Key)
		seen[e.Key] = true
	}
}

func TestMergePreservesCuratedExtrasAndRefreshesProvenance(t *testing.T) {
	t.Parallel()

	existing := &domain.CanonicalDataset{
		ID: "d1",
		Extras: domain.Extras{
			{Key: domain.ExtraDataQuality, Value: "5"},
			{Key: domain.ExtraUpstreamURL, Value: "https://old.example.org/dataset/d1"},
			{Key: domain.ExtraContentHash, Value: "hash-1"},
			{Key: "update_frequency", Value: "weekly"},
		},
		Groups: []domain.Group{{ID: "g1", Name: "environment"}},
	}

	out := NewEngine(nil).Merge(fresh(), existing, Settings{}, provenance())
	values := out.Extras.Map()

	assert.Equal(t, "5", values[domain.ExtraDataQuality])
	assert.Equal(t, "https://data.example.org/dataset/d1", values[domain.ExtraUpstreamURL])
	assert.Equal(t, "hash-2", values[domain.ExtraContentHash])
	assert.Equal(t, "monthly", values["update_frequency"])
	assert.Equal(t, "2023-06-27T10:45:57.284000", values[domain.ExtraUpstreamMetadataModified])
	assert.Equal(t, "DAILY", values[domain.ExtraHarvestSourceFrequency])
	assert.Equal(t, "1.0", values[domain.ExtraDatasetBoost])
	assert.Equal(t, []domain.Group{{ID: "g1", Name: "environment"}}, out.Groups)
	assert.Len(t, out.Resources, 1)
	assertUniqueKeys(t, out.Extras)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	settings := Settings{
		DefaultExtras: domain.Extras{{Key: "harvested_from", Value: "{harvest_source_title}"}},
		DefaultTags:   []domain.Tag{{Name: "london"}},
	}

	first := engine.Merge(fresh(), nil, settings, provenance())
	second := engine.Merge(fresh(), &first, settings, provenance())

	assert.Equal(t, first.Extras.Map(), second.Extras.Map())
	assert.Len(t, second.Extras, len(first.Extras))
	assert.Len(t, second.Tags, 1)
	assert.Len(t, second.Resources, len(first.Resources))
	assertUniqueKeys(t, second.Extras)
}

func TestMergeSanitizesDefaultTags(t *testing.T) {
	t.Parallel()

	record := fresh()
	record.Tags = []domain.Tag{{Name: "Open Data"}}
	settings := Settings{DefaultTags: []domain.Tag{{Name: "Open Data!!"}, {Name: "London (UK)"}, {Name: "£€"}}}

	out := NewEngine(nil).Merge(record, nil, settings, provenance())

	assert.Equal(t, []domain.Tag{{Name: "Open Data"}, {Name: "London UK"}}, out.Tags)
}

func TestMergeDefaultsRespectOverrideFlag(t *testing.T) {
	t.Parallel()

	record := fresh()
	record.Extras = domain.Extras{{Key: "licence_note", Value: "upstream"}}
	settings := Settings{DefaultExtras: domain.Extras{{Key: "licence_note", Value: "default for {dataset_id}"}}}

	kept := NewEngine(nil).Merge(record, nil, settings, provenance())
	v, _ := kept.Extras.Get("licence_note")
	assert.Equal(t, "upstream", v)

	settings.OverrideExtras = true
	overridden := NewEngine(nil).Merge(record, nil, settings, provenance())
	v, _ = overridden.Extras.Get("licence_note")
	assert.Equal(t, "default for d1", v)
}

func TestMergeBaselineNeverOverwrites(t *testing.T) {
	t.Parallel()

	record := fresh()
	record.Extras = domain.Extras{{Key: domain.ExtraDatasetBoost, Value: "3"}}

	out := NewEngine(domain.Extras{{Key: domain.ExtraDatasetBoost, Value: "1.0"}}).Merge(record, nil, Settings{}, provenance())
	v, _ := out.Extras.Get(domain.ExtraDatasetBoost)
	assert.Equal(t, "3", v)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	record := fresh()
	existing := &domain.CanonicalDataset{Extras: domain.Extras{{Key: "note", Value: "x"}}}

	_ = NewEngine(nil).Merge(record, existing, Settings{}, provenance())

	assert.Len(t, record.Extras, 1)
	assert.Len(t, record.Resources, 2)
	assert.Len(t, existing.Extras, 1)
}

func TestExpand(t *testing.T) {
	t.Parallel()

	values := map[string]string{"harvest_source_title": "GLA", "dataset_id": "d1"}
	assert.Equal(t, "GLA/d1", Expand("{harvest_source_title}/{dataset_id}", values))
	assert.Equal(t, "{unknown} stays", Expand("{unknown} stays", values))
	assert.Equal(t, "plain", Expand("plain", values))
}

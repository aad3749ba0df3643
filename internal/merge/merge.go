// Package merge combines a freshly normalized record with configured
// defaults and the previously stored catalog record.
package merge

import (
	"regexp"
	"strings"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/normalize"
)

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// volatileKeys are always refreshed from the current run.
var volatileKeys = []string{
	domain.ExtraUpstreamURL,
	domain.ExtraUpstreamMetadataCreated,
	domain.ExtraUpstreamMetadataModified,
	domain.ExtraContentHash,
	domain.ExtraHarvestObjectID,
	domain.ExtraHarvestSourceID,
	domain.ExtraHarvestSourceTitle,
	domain.ExtraHarvestSourceFrequency,
	domain.ExtraHarvestURL,
}

// DefaultBaseline lists extras every record ends up with.
var DefaultBaseline = domain.Extras{
	{Key: domain.ExtraDataQuality, Value: ""},
	{Key: domain.ExtraDatasetBoost, Value: "1.0"},
}

// Provenance describes where the record came from in this run.
type Provenance struct {
	SourceID        string
	SourceURL       string
	SourceTitle     string
	SourceFrequency string
	JobID           string
	ObjectID        string
	UpstreamURL     string
}

func (p Provenance) fields(datasetID string) map[string]string {
	return map[string]string{
		"harvest_source_id":        p.SourceID,
		"harvest_source_url":       p.SourceURL,
		"harvest_source_title":     p.SourceTitle,
		"harvest_source_frequency": p.SourceFrequency,
		"harvest_job_id":           p.JobID,
		"harvest_object_id":        p.ObjectID,
		"dataset_id":               datasetID,
	}
}

// Settings carries the per-source merge options.
type Settings struct {
	DefaultExtras  domain.Extras
	DefaultTags    []domain.Tag
	OverrideExtras bool
	// ManagedKeys are extras owned by the source; stored values are never
	// carried over for them.
	ManagedKeys []string
}

// Engine applies the overlay sequence.
type Engine struct {
	baseline domain.Extras
}

// NewEngine builds an engine with the given baseline extras; nil selects
// DefaultBaseline.
func NewEngine(baseline domain.Extras) *Engine {
	if baseline == nil {
		baseline = DefaultBaseline
	}
	return &Engine{baseline: baseline.Clone()}
}

// Merge returns the record to write. Neither fresh nor existing is modified.
func (e *Engine) Merge(fresh domain.CanonicalDataset, existing *domain.CanonicalDataset, settings Settings, prov Provenance) domain.CanonicalDataset {
	out := fresh.Clone()
	upstream := fresh.Extras.Dedupe()

	defaults := make(domain.Extras, 0, len(settings.DefaultExtras))
	values := prov.fields(fresh.ID)
	for _, extra := range settings.DefaultExtras {
		defaults = defaults.Upsert(extra.Key, Expand(extra.Value, values))
	}

	var extras domain.Extras
	if settings.OverrideExtras {
		extras = overlay(extras, upstream)
		extras = overlay(extras, defaults)
	} else {
		extras = overlay(extras, defaults)
		extras = overlay(extras, upstream)
	}

	if existing != nil {
		refreshed := make(map[string]struct{}, len(volatileKeys)+len(settings.ManagedKeys)+len(upstream))
		for _, k := range volatileKeys {
			refreshed[k] = struct{}{}
		}
		for _, k := range settings.ManagedKeys {
			refreshed[k] = struct{}{}
		}
		for _, extra := range upstream {
			refreshed[extra.Key] = struct{}{}
		}
		for _, extra := range existing.Extras {
			if _, skip := refreshed[extra.Key]; skip {
				continue
			}
			extras = extras.Upsert(extra.Key, extra.Value)
		}

		if len(out.Groups) == 0 && len(existing.Groups) > 0 {
			out.Groups = append([]domain.Group(nil), existing.Groups...)
		}
	}

	extras = overlay(extras, provenanceExtras(fresh, prov))

	for _, extra := range e.baseline {
		extras = extras.SetDefault(extra.Key, extra.Value)
	}
	out.Extras = extras

	for _, tag := range settings.DefaultTags {
		name := normalize.Tag(tag.Name)
		if strings.TrimSpace(name) == "" || out.HasTag(name) {
			continue
		}
		out.Tags = append(out.Tags, domain.Tag{Name: name})
	}
	out.Resources = dedupeResources(out.Resources)

	return out
}

func provenanceExtras(fresh domain.CanonicalDataset, prov Provenance) domain.Extras {
	var out domain.Extras
	set := func(key, value string) {
		if value != "" {
			out = out.Upsert(key, value)
		}
	}
	set(domain.ExtraUpstreamURL, prov.UpstreamURL)
	set(domain.ExtraUpstreamMetadataCreated, fresh.MetadataCreated)
	set(domain.ExtraUpstreamMetadataModified, fresh.MetadataModified)
	set(domain.ExtraContentHash, fresh.ContentHash)
	set(domain.ExtraHarvestSourceFrequency, prov.SourceFrequency)
	set(domain.ExtraHarvestSourceID, prov.SourceID)
	set(domain.ExtraHarvestSourceTitle, prov.SourceTitle)
	set(domain.ExtraHarvestObjectID, prov.ObjectID)
	return out
}

func overlay(base, top domain.Extras) domain.Extras {
	for _, extra := range top {
		base = base.Upsert(extra.Key, extra.Value)
	}
	return base
}

func dedupeResources(in []domain.Resource) []domain.Resource {
	seen := make(map[string]struct{}, len(in))
	out := make([]domain.Resource, 0, len(in))
	for _, res := range in {
		if res.ID != "" {
			if _, dup := seen[res.ID]; dup {
				continue
			}
			seen[res.ID] = struct{}{}
		}
		out = append(out, res)
	}
	return out
}

// Expand substitutes {name} placeholders found in values. Unknown
// placeholders are left as written.
func Expand(template string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Package changes decides which upstream records need writing and which
// local records must be purged.
package changes

import (
	"log/slog"
	"sort"

	"CatalogHarvester/internal/domain"
)

// Partition is the outcome of comparing one fetch against the catalog.
type Partition struct {
	Upserts    []domain.CanonicalDataset
	Deletes    []string
	Duplicates []string
}

// Diff collapses duplicate ids to their first occurrence and computes the
// ids present locally but no longer upstream.
func Diff(fetched []domain.CanonicalDataset, existing map[string]struct{}, logger *slog.Logger) Partition {
	var part Partition
	seen := make(map[string]struct{}, len(fetched))

	for _, ds := range fetched {
		if _, dup := seen[ds.ID]; dup {
			part.Duplicates = append(part.Duplicates, ds.ID)
			if logger != nil {
				logger.Info("dropping duplicate upstream record", "guid", ds.ID)
			}
			continue
		}
		seen[ds.ID] = struct{}{}
		part.Upserts = append(part.Upserts, ds)
	}

	for id := range existing {
		if _, ok := seen[id]; !ok {
			part.Deletes = append(part.Deletes, id)
		}
	}
	sort.Strings(part.Deletes)

	return part
}

// Signal names the evidence a source offers for "nothing changed".
type Signal string

const (
	// SignalModified compares upstream modification timestamps.
	SignalModified Signal = "modified"
	// SignalContentHash compares digests of the normalized record.
	SignalContentHash Signal = "content-hash"
)

// Unchanged reports whether fresh can be skipped given the stored record.
// A nil existing record is never unchanged.
func Unchanged(signal Signal, fresh domain.CanonicalDataset, existing *domain.CanonicalDataset) bool {
	if existing == nil {
		return false
	}

	switch signal {
	case SignalContentHash:
		stored, ok := existing.Extras.Get(domain.ExtraContentHash)
		return ok && stored != "" && stored == fresh.ContentHash
	case SignalModified:
		stored, ok := existing.Extras.Get(domain.ExtraUpstreamMetadataModified)
		if !ok || stored == "" || fresh.MetadataModified == "" {
			return false
		}
		return stored >= fresh.MetadataModified
	default:
		return false
	}
}

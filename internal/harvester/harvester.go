package harvester

import (
	"context"
	"fmt"
	"sort"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/sourceconfig"
)

// Source is one configured harvest source.
type Source struct {
	ID        string
	Name      string
	Title     string
	URL       string
	Type      string
	Frequency string
	OwnerOrg  string
	Config    sourceconfig.Config
	// DefaultGroups holds the resolved default_groups.
	DefaultGroups []domain.Group
}

// Traits describe how the pipeline treats records of a harvester.
type Traits struct {
	Signal changes.Signal
	// ManagedExtras are extras the source owns even when it omits them.
	ManagedExtras []string
}

// GatherResult carries the normalized records of one discovery pass and
// any item-level problems met along the way.
type GatherResult struct {
	Datasets    []domain.CanonicalDataset
	Diagnostics []string
}

// Harvester captures a single upstream integration (DataPress, Socrata, etc.).
type Harvester interface {
	Name() string
	Traits() Traits
	// Validate applies source-specific configuration rules.
	Validate(cfg sourceconfig.Config) error
	// Gather lists and normalizes every upstream record. A *domain.SourceError
	// aborts the run.
	Gather(ctx context.Context, src Source) (GatherResult, error)
	// Fetch completes a gathered record in place.
	Fetch(ctx context.Context, src Source, ds *domain.CanonicalDataset) error
	// UpstreamURL is the public page of the record at the source.
	UpstreamURL(src Source, ds domain.CanonicalDataset) string
}

// Registry keeps a mapping from harvester names to their implementations.
type Registry struct {
	harvesters map[string]Harvester
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{harvesters: map[string]Harvester{}}
}

// Register adds or replaces a harvester implementation.
func (r *Registry) Register(h Harvester) {
	if r.harvesters == nil {
		r.harvesters = map[string]Harvester{}
	}
	r.harvesters[h.Name()] = h
}

// Resolve returns a harvester by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Harvester, error) {
	if h, ok := r.harvesters[name]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("harvester %s is not registered", name)
}

// Names lists the registered harvester names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.harvesters))
	for name := range r.harvesters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

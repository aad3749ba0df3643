// Package identity maps upstream organization references onto catalog
// organizations.
package identity

import (
	"context"
	"fmt"
	"log/slog"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/normalize"
)

// OrganizationCatalog is the catalog surface the resolver needs.
type OrganizationCatalog interface {
	ShowOrganization(ctx context.Context, ref string) (domain.Organization, error)
	CreateOrganization(ctx context.Context, org domain.Organization) (domain.Organization, error)
}

// Options controls a single resolution.
type Options struct {
	AllowCreate bool
	// Fallback is the upstream organization payload used when creating.
	Fallback *domain.Organization
	// Link becomes the Website extra of a created organization.
	Link string
}

// Resolver canonicalizes organization references.
type Resolver struct {
	catalog   OrganizationCatalog
	overrides *Overrides
	logger    *slog.Logger
}

// NewResolver wires the catalog and the override table.
func NewResolver(catalog OrganizationCatalog, overrides *Overrides, logger *slog.Logger) *Resolver {
	if overrides == nil {
		overrides = NewOverrides()
	}
	return &Resolver{catalog: catalog, overrides: overrides, logger: logger}
}

// Resolve returns the catalog id for ref. When nothing matches and creation
// is disabled, ref itself is returned.
func (r *Resolver) Resolve(ctx context.Context, sourceName, ref string, opts Options) (string, error) {
	if ref == "" {
		return "", nil
	}

	canonical := ref
	if org, err := r.catalog.ShowOrganization(ctx, ref); err == nil {
		canonical = org.Name
	} else if !domain.IsNotFound(err) {
		return "", fmt.Errorf("canonicalise organization %s: %w", ref, err)
	}

	override, overridden := r.overrides.Lookup(sourceName, canonical)
	if !overridden && canonical != ref {
		override, overridden = r.overrides.Lookup(sourceName, ref)
	}

	target := canonical
	if overridden && override.Name != "" {
		target = override.Name
	}

	org, err := r.catalog.ShowOrganization(ctx, target)
	switch {
	case err == nil:
		if overridden {
			r.info("organization remapped", "source", sourceName, "from", ref, "to", org.Name)
		}
		return org.ID, nil
	case !domain.IsNotFound(err):
		return "", fmt.Errorf("lookup organization %s: %w", target, err)
	}

	if !opts.AllowCreate {
		r.info("organization not found, keeping upstream reference", "source", sourceName, "ref", ref)
		return ref, nil
	}

	payload := r.payload(canonical, target, override, overridden, opts)
	if payload.Name != target {
		// free-text references are created under their slug
		existing, err := r.catalog.ShowOrganization(ctx, payload.Name)
		if err == nil {
			return existing.ID, nil
		}
		if !domain.IsNotFound(err) {
			return "", fmt.Errorf("lookup organization %s: %w", payload.Name, err)
		}
	}

	created, err := r.catalog.CreateOrganization(ctx, payload)
	if err != nil {
		// a concurrent harvest may have created it in the meantime
		if existing, lookupErr := r.catalog.ShowOrganization(ctx, payload.Name); lookupErr == nil {
			return existing.ID, nil
		}
		return "", fmt.Errorf("create organization %s: %w", payload.Name, err)
	}

	r.info("organization created", "source", sourceName, "name", created.Name, "id", created.ID)
	return created.ID, nil
}

func (r *Resolver) payload(canonical, target string, override Override, overridden bool, opts Options) domain.Organization {
	var org domain.Organization
	if opts.Fallback != nil {
		org = domain.Organization{
			ID:          opts.Fallback.ID,
			Name:        opts.Fallback.Name,
			Title:       opts.Fallback.Title,
			Description: opts.Fallback.Description,
			ImageURL:    opts.Fallback.ImageURL,
		}
	} else {
		org = domain.Organization{Name: target, Title: canonical}
	}

	if overridden {
		if override.Name != "" {
			org.Name = override.Name
		}
		if override.Title != "" {
			org.Title = override.Title
		}
	}
	if org.Name == "" {
		org.Name = target
	}
	if !normalize.ValidOrgName(org.Name) {
		org.Name = normalize.Slug(org.Name)
	}
	if org.Title == "" {
		org.Title = canonical
	}
	if opts.Link != "" {
		org.Extras = org.Extras.Upsert(domain.ExtraWebsite, opts.Link)
	}
	return org
}

func (r *Resolver) info(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/wI2L/jsondiff"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/identity"
	"CatalogHarvester/internal/merge"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/sourceconfig"
)

// Import writes every item of a job into the catalog. Items settled by an
// earlier attempt keep their outcome; queued items are fetched first. A
// failing item never stops its siblings.
func (p *Pipeline) Import(ctx context.Context, src harvester.Source, jobID string) (domain.RunReport, error) {
	h, err := p.registry.Resolve(src.Type)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("resolve harvester: %w", err)
	}
	job, err := p.staging.Job(ctx, jobID)
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("load job: %w", err)
	}
	items, err := p.staging.Items(ctx, jobID, "")
	if err != nil {
		return domain.RunReport{}, fmt.Errorf("load items: %w", err)
	}

	report := domain.RunReport{
		JobID:       job.ID,
		SourceID:    job.SourceID,
		SourceName:  job.SourceName,
		StartedAt:   job.StartedAt,
		Status:      domain.RunCompleted,
		Diagnostics: job.Diagnostics,
	}

	for _, item := range items {
		if item.Outcome != nil {
			report.Record(*item.Outcome)
			continue
		}
		if item.State == domain.StateQueued {
			item = p.fetchItem(ctx, h, src, item)
		}

		var outcome domain.Outcome
		switch {
		case item.State == domain.StateFailed:
			outcome = domain.Outcome{GUID: item.GUID, Action: item.Action, Status: domain.OutcomeFailed, Reason: item.Error}
		case item.Action == domain.ActionDelete:
			outcome = p.purge(ctx, src, item)
		default:
			outcome = p.upsert(ctx, h, src, job, item)
		}

		item.Outcome = &outcome
		if outcome.Status == domain.OutcomeFailed {
			item.State = domain.StateFailed
			item.Error = outcome.Reason
		} else {
			item.State = domain.StateDone
		}
		if err := p.staging.Save(ctx, item); err != nil {
			return report, fmt.Errorf("save item %s: %w", item.GUID, err)
		}
		report.Record(outcome)
	}

	if report.Counts.Deleted > 0 {
		p.info("purged records gone upstream", "source", src.Name, "job", job.ID, "count", report.Counts.Deleted)
	}
	report.FinishedAt = p.now()
	return report, nil
}

func (p *Pipeline) purge(ctx context.Context, src harvester.Source, item domain.WorkItem) domain.Outcome {
	outcome := domain.Outcome{GUID: item.GUID, Action: domain.ActionDelete, Status: domain.OutcomeDeleted}
	if err := p.catalog.PurgeDataset(ctx, item.GUID); err != nil && !domain.IsNotFound(err) {
		p.warn("purge failed", "source", src.Name, "guid", item.GUID, "error", err)
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = err.Error()
	}
	return outcome
}

func (p *Pipeline) upsert(ctx context.Context, h harvester.Harvester, src harvester.Source, job domain.HarvestJob, item domain.WorkItem) domain.Outcome {
	outcome := domain.Outcome{GUID: item.GUID, Action: domain.ActionUpsert}
	fail := func(stage string, err error) domain.Outcome {
		itemErr := &domain.ItemError{GUID: item.GUID, Stage: stage, Err: err}
		p.warn("import failed", "source", src.Name, "job", job.ID, "guid", item.GUID, "error", itemErr)
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = err.Error()
		return outcome
	}
	if item.Dataset == nil {
		return fail("import", errors.New("work item carries no record"))
	}

	ds := item.Dataset.Clone()
	normalizeCommon(&ds)
	if err := changes.EnsureHash(&ds); err != nil {
		return fail("hash", err)
	}

	existing, err := p.storedRecord(ctx, ds.ID)
	if err != nil {
		return fail("lookup", err)
	}
	traits := h.Traits()
	if changes.Unchanged(traits.Signal, ds, existing) {
		p.info("record unchanged, skipping write", "source", src.Name, "guid", item.GUID)
		outcome.Status = domain.OutcomeUnchanged
		return outcome
	}

	owner, err := p.ownerOrg(ctx, src, ds)
	if err != nil {
		return fail("organization", err)
	}
	ds.OwnerOrg = owner

	groups, err := p.remoteGroups(ctx, src, ds.Groups)
	if err != nil {
		return fail("groups", err)
	}
	ds.Groups = groups

	settings := merge.Settings{
		DefaultExtras:  src.Config.DefaultExtraValues(),
		DefaultTags:    src.Config.DefaultTags,
		OverrideExtras: src.Config.OverrideExtras,
		ManagedKeys:    traits.ManagedExtras,
	}
	prov := merge.Provenance{
		SourceID:        src.ID,
		SourceURL:       src.URL,
		SourceTitle:     src.Title,
		SourceFrequency: src.Frequency,
		JobID:           job.ID,
		ObjectID:        item.ID,
		UpstreamURL:     h.UpstreamURL(src, ds),
	}
	merged := p.merger.Merge(ds, existing, settings, prov)
	for _, g := range src.DefaultGroups {
		if (g.ID != "" && merged.HasGroup(g.ID)) || (g.Name != "" && merged.HasGroup(g.Name)) {
			continue
		}
		merged.Groups = append(merged.Groups, domain.Group{ID: g.ID, Name: g.Name})
	}

	if existing == nil {
		_, err = p.catalog.CreateDataset(ctx, merged)
		outcome.Status = domain.OutcomeCreated
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			p.info("record exists under another harvest, updating", "source", src.Name, "guid", item.GUID)
			_, err = p.catalog.UpdateDataset(ctx, merged)
			outcome.Status = domain.OutcomeUpdated
		}
	} else {
		_, err = p.catalog.UpdateDataset(ctx, merged)
		outcome.Status = domain.OutcomeUpdated
		outcome.Changes = changedPaths(*existing, merged)
	}
	if err != nil {
		return fail("write", err)
	}
	return outcome
}

func (p *Pipeline) storedRecord(ctx context.Context, id string) (*domain.CanonicalDataset, error) {
	stored, err := p.catalog.ShowDataset(ctx, id)
	if domain.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ownerOrg picks the catalog organization of a record. Without remote_orgs
// every record belongs to the source's own organization.
func (p *Pipeline) ownerOrg(ctx context.Context, src harvester.Source, ds domain.CanonicalDataset) (string, error) {
	policy := src.Config.RemoteOrgs
	if policy == "" {
		ref := src.OwnerOrg
		if ref == "" {
			ref = ds.OwnerOrg
		}
		return p.resolver.Resolve(ctx, src.Name, ref, identity.Options{})
	}

	ref := ds.OwnerOrg
	if ref == "" && ds.Organization != nil {
		ref = ds.Organization.Name
	}
	if ref == "" {
		return p.resolver.Resolve(ctx, src.Name, src.OwnerOrg, identity.Options{})
	}

	create := policy == sourceconfig.RemoteCreate
	id, err := p.resolver.Resolve(ctx, src.Name, ref, identity.Options{
		AllowCreate: create,
		Fallback:    ds.Organization,
		Link:        ds.OrgLink,
	})
	if err != nil {
		return "", err
	}
	if create || src.OwnerOrg == "" || id != ref {
		return id, nil
	}

	// the resolver hands back unknown references unchanged
	if _, err := p.catalog.ShowOrganization(ctx, id); err != nil {
		if !domain.IsNotFound(err) {
			return "", fmt.Errorf("lookup organization %s: %w", id, err)
		}
		p.info("remote organization unknown locally, using source organization", "source", src.Name, "ref", ref)
		return p.resolver.Resolve(ctx, src.Name, src.OwnerOrg, identity.Options{})
	}
	return id, nil
}

// remoteGroups applies remote_groups to the upstream groups of a record.
func (p *Pipeline) remoteGroups(ctx context.Context, src harvester.Source, upstream []domain.Group) ([]domain.Group, error) {
	policy := src.Config.RemoteGroups
	if policy != sourceconfig.RemoteOnlyLocal && policy != sourceconfig.RemoteCreate {
		return nil, nil
	}

	var out []domain.Group
	for _, g := range upstream {
		local, err := p.localGroup(ctx, g)
		if err == nil {
			out = append(out, domain.Group{ID: local.ID, Name: local.Name})
			continue
		}
		if !domain.IsNotFound(err) {
			return nil, err
		}
		if policy != sourceconfig.RemoteCreate || g.Name == "" {
			p.info("remote group unknown locally, dropping", "source", src.Name, "group", g.Name)
			continue
		}

		created, err := p.catalog.CreateGroup(ctx, domain.Group{ID: g.ID, Name: g.Name, Title: g.Title})
		if err != nil {
			var conflict *domain.ConflictError
			if !errors.As(err, &conflict) {
				return nil, fmt.Errorf("create group %s: %w", g.Name, err)
			}
			if created, err = p.localGroup(ctx, g); err != nil {
				return nil, fmt.Errorf("create group %s: %w", g.Name, err)
			}
		}
		p.info("group created", "source", src.Name, "group", created.Name)
		out = append(out, domain.Group{ID: created.ID, Name: created.Name})
	}
	return out, nil
}

// localGroup looks a group up by id, then by name.
func (p *Pipeline) localGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	if g.ID != "" {
		found, err := p.catalog.ShowGroup(ctx, g.ID)
		if err == nil || !domain.IsNotFound(err) {
			return found, err
		}
	}
	if g.Name == "" {
		return domain.Group{}, &domain.NotFoundError{Kind: "group", Ref: g.ID}
	}
	return p.catalog.ShowGroup(ctx, g.Name)
}

// normalizeCommon reapplies the shared field rules. Every rule is
// idempotent, so records normalized at gather pass through unchanged.
func normalizeCommon(ds *domain.CanonicalDataset) {
	ds.MetadataCreated = normalize.Timestamp(ds.MetadataCreated)
	ds.MetadataModified = normalize.Timestamp(ds.MetadataModified)

	names := make([]string, len(ds.Tags))
	for i, t := range ds.Tags {
		names[i] = t.Name
	}
	clean := normalize.Tags(names)
	ds.Tags = make([]domain.Tag, len(clean))
	for i, name := range clean {
		ds.Tags[i] = domain.Tag{Name: name}
	}

	ds.Extras = ds.Extras.Dedupe()
}

// changedPaths lists the JSON pointers that differ between the stored and
// the written record. Catalog-managed fields are left out.
func changedPaths(before, after domain.CanonicalDataset) []string {
	for _, ds := range []*domain.CanonicalDataset{&before, &after} {
		ds.MetadataCreated = ""
		ds.MetadataModified = ""
		ds.Organization = nil
	}

	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(patch))
	paths := make([]string, 0, len(patch))
	for _, op := range patch {
		path := string(op.Path)
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		paths = append(paths, path)
	}
	return paths
}

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/sourceconfig"
)

const (
	extraLondonSmallestGeography = "london_smallest_geography"
	extraUpdateFrequency         = "update_frequency"
)

var datapressResourceFields = []string{"temporal_coverage_from", "temporal_coverage_to"}

// DataPress harvests the CKAN compatibility API of DataPress instances.
type DataPress struct {
	client  *Client
	sniffer *normalize.Sniffer
	rewrite normalize.StorageRewrite
	logger  *slog.Logger
}

var _ harvester.Harvester = (*DataPress)(nil)

// NewDataPress wires the upstream client. A nil sniffer leaves image
// resources as declared.
func NewDataPress(client *Client, sniffer *normalize.Sniffer, logger *slog.Logger) *DataPress {
	return &DataPress{
		client:  client,
		sniffer: sniffer,
		rewrite: normalize.DefaultStorageRewrite,
		logger:  logger,
	}
}

// Name identifies the harvester inside the registry.
func (d *DataPress) Name() string {
	return "datapress"
}

func (d *DataPress) Traits() harvester.Traits {
	return harvester.Traits{
		Signal:        changes.SignalModified,
		ManagedExtras: []string{extraLondonSmallestGeography, extraUpdateFrequency},
	}
}

// Validate has nothing to add to the common rules.
func (d *DataPress) Validate(sourceconfig.Config) error {
	return nil
}

// Gather lists every dataset of the instance and normalizes it.
func (d *DataPress) Gather(ctx context.Context, src harvester.Source) (harvester.GatherResult, error) {
	base := strings.TrimRight(src.URL, "/")

	headers := map[string]string{}
	if src.Config.DataPressAPIKey != "" {
		token, err := d.identity(ctx, base, src.Config.DataPressAPIKey)
		if err != nil {
			return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "request access token", Err: err}
		}
		headers["Identity"] = token
	}

	listURL := base + src.Config.APIPath() + "current_package_list_with_resources"
	d.info("fetching datasets", "source", src.Name, "url", listURL)

	var list dpPackageList
	if err := d.client.GetJSON(ctx, listURL, headers, &list); err != nil {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "unable to fetch datasets", Err: err}
	}
	if !list.Success {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: fmt.Sprintf("dataset list failed: %s", stringValue(list.Error))}
	}
	if len(list.Result) == 0 {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "no datasets found at " + base}
	}

	exports, err := d.exportFields(ctx, base, headers)
	if err != nil {
		d.warn("export fields unavailable", "source", src.Name, "error", err)
	}

	packages, skipped := decodeRecords[dpPackage](list.Result)
	for _, diag := range skipped {
		d.warn("malformed dataset", "source", src.Name, "detail", diag)
	}

	result := harvester.GatherResult{
		Datasets:    make([]domain.CanonicalDataset, 0, len(packages)),
		Diagnostics: skipped,
	}
	for _, pkg := range packages {
		if pkg.ID == "" {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("dataset %q has no id", pkg.Name))
			continue
		}
		if bool(pkg.Private) && !src.Config.HarvestPrivateDatasets {
			d.info("discarding private dataset", "source", src.Name, "name", pkg.Name, "id", pkg.ID)
			continue
		}
		if pkg.Type == "harvest" {
			d.warn("remote dataset is a harvest source, ignoring", "source", src.Name, "id", pkg.ID)
			continue
		}
		if !passesFilters(pkg, src.Config) {
			continue
		}

		result.Datasets = append(result.Datasets, d.normalize(ctx, pkg, exports[pkg.ID]))
	}
	return result, nil
}

// Fetch is a pass-through: the list call returned full records.
func (d *DataPress) Fetch(context.Context, harvester.Source, *domain.CanonicalDataset) error {
	return nil
}

func (d *DataPress) UpstreamURL(src harvester.Source, ds domain.CanonicalDataset) string {
	return fmt.Sprintf("%s/dataset/%s", strings.TrimRight(src.URL, "/"), ds.ID)
}

func (d *DataPress) identity(ctx context.Context, base, apiKey string) (string, error) {
	var who dpWhoAmI
	if err := d.client.GetJSON(ctx, base+"/api/whoami", map[string]string{"Authorization": apiKey}, &who); err != nil {
		return "", err
	}
	if who.Readonly.LibraryJwt == "" {
		return "", fmt.Errorf("whoami returned no token")
	}
	return who.Readonly.LibraryJwt, nil
}

func (d *DataPress) exportFields(ctx context.Context, base string, headers map[string]string) (map[string]dpExportPackage, error) {
	var raw []json.RawMessage
	if err := d.client.GetJSON(ctx, base+"/api/datasets/export.json", headers, &raw); err != nil {
		return nil, err
	}
	packages, skipped := decodeRecords[dpExportPackage](raw)
	for _, diag := range skipped {
		d.warn("malformed export entry", "detail", diag)
	}
	out := make(map[string]dpExportPackage, len(packages))
	for _, pkg := range packages {
		out[pkg.ID] = pkg
	}
	return out, nil
}

func passesFilters(pkg dpPackage, cfg sourceconfig.Config) bool {
	org := ""
	if pkg.Organization != nil {
		org = pkg.Organization.Name
	}
	if len(cfg.OrganizationsFilterInclude) > 0 && !containsAny(cfg.OrganizationsFilterInclude, org, pkg.OwnerOrg) {
		return false
	}
	if len(cfg.OrganizationsFilterExclude) > 0 && containsAny(cfg.OrganizationsFilterExclude, org, pkg.OwnerOrg) {
		return false
	}

	groups := make([]string, 0, 2*len(pkg.Groups))
	for _, g := range pkg.Groups {
		groups = append(groups, g.Name, g.ID)
	}
	if len(cfg.GroupsFilterInclude) > 0 && !containsAny(cfg.GroupsFilterInclude, groups...) {
		return false
	}
	if len(cfg.GroupsFilterExclude) > 0 && containsAny(cfg.GroupsFilterExclude, groups...) {
		return false
	}
	return true
}

func containsAny(list []string, values ...string) bool {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, item := range list {
			if item == v {
				return true
			}
		}
	}
	return false
}

func (d *DataPress) normalize(ctx context.Context, pkg dpPackage, export dpExportPackage) domain.CanonicalDataset {
	ds := domain.CanonicalDataset{
		ID:               pkg.ID,
		Name:             pkg.Name,
		Title:            string(pkg.Title),
		Notes:            string(pkg.Notes),
		Author:           string(pkg.Author),
		AuthorEmail:      normalize.Email(string(pkg.AuthorEmail)),
		Maintainer:       string(pkg.Maintainer),
		MaintainerEmail:  normalize.Email(string(pkg.MaintainerEmail)),
		LicenseID:        string(pkg.LicenseID),
		LicenseTitle:     string(pkg.LicenseTitle),
		URL:              string(pkg.URL),
		Version:          string(pkg.Version),
		Type:             pkg.Type,
		Private:          bool(pkg.Private),
		MetadataCreated:  normalize.Timestamp(string(pkg.MetadataCreated)),
		MetadataModified: normalize.Timestamp(string(pkg.MetadataModified)),
		OwnerOrg:         pkg.OwnerOrg,
	}

	for _, name := range normalize.Tags(pkg.Tags) {
		ds.Tags = append(ds.Tags, domain.Tag{Name: name})
	}
	for _, g := range pkg.Groups {
		ds.Groups = append(ds.Groups, domain.Group{ID: g.ID, Name: g.Name, Title: g.Title})
	}
	for _, e := range pkg.Extras {
		if e.Key == "" || e.Value == nil {
			continue
		}
		ds.Extras = ds.Extras.Upsert(e.Key, stringValue(e.Value))
	}
	if v := stringValue(export.LondonSmallestGeography); v != "" {
		ds.Extras = ds.Extras.Upsert(extraLondonSmallestGeography, v)
	}
	if v := stringValue(export.UpdateFrequency); v != "" {
		ds.Extras = ds.Extras.Upsert(extraUpdateFrequency, v)
	}

	if org := pkg.Organization; org != nil {
		name := org.Name
		if !normalize.ValidOrgName(name) {
			d.info("renaming organization", "from", name, "to", org.ID)
			name = org.ID
		}
		ds.Organization = &domain.Organization{
			ID:          org.ID,
			Name:        name,
			Title:       string(org.Title),
			Description: string(org.Description),
			ImageURL:    string(org.ImageURL),
		}
		if ds.OwnerOrg == "" {
			ds.OwnerOrg = org.ID
		}
	}

	resources := pkg.Resources
	if len(resources) == 0 && pkg.Organization != nil {
		resources = pkg.Organization.Resources
	}
	exportResources := make(map[string]dpResource, len(export.Resources))
	for _, r := range export.Resources {
		exportResources[r.ID] = r
	}
	for _, r := range resources {
		ds.Resources = append(ds.Resources, d.resource(ctx, ds.Name, r, exportResources[r.ID]))
	}
	return ds
}

func (d *DataPress) resource(ctx context.Context, datasetName string, r dpResource, export dpResource) domain.Resource {
	res := domain.Resource{
		ID:           normalize.ResourceID(r.ID),
		URL:          string(r.URL),
		Name:         string(r.Name),
		Description:  string(r.Description),
		Format:       string(r.Format),
		MimeType:     string(r.MimeType),
		Created:      normalize.DateOnly(string(r.Created)),
		LastModified: normalize.Timestamp(string(r.LastModified)),
	}

	if res.Format == "" {
		res.Format = normalize.FormatFromURL(res.URL)
	}
	res.URL = d.rewrite.Apply(res.URL, datasetName, r.ID, res.Name, res.Format)
	if res.Format == normalize.ImageFormat && d.sniffer != nil {
		res.Format = d.sniffer.ImageFormat(ctx, res.URL)
	}

	for i, value := range []string{string(export.TemporalCoverageFrom), string(export.TemporalCoverageTo)} {
		if value == "" {
			continue
		}
		if res.Extras == nil {
			res.Extras = map[string]string{}
		}
		res.Extras[datapressResourceFields[i]] = value
	}
	return res
}

func (d *DataPress) info(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *DataPress) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}

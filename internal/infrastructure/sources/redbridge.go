package sources

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/sourceconfig"
)

const (
	redbridgeLicense   = "uk-ogl"
	redbridgeTitleFmt  = "Redbridge - %s - %s"
	maxDatasetNameSize = 100
)

type rbCategories struct {
	XMLName xml.Name     `xml:"ArrayOfRestCategory"`
	Items   []rbCategory `xml:"RestCategory"`
}

type rbCategory struct {
	Title       string `xml:"Title"`
	FriendlyURL string `xml:"FriendlyUrl"`
}

type rbSchemas struct {
	XMLName xml.Name   `xml:"ArrayOfRestSchema"`
	Items   []rbSchema `xml:"RestSchema"`
}

type rbSchema struct {
	Title            string `xml:"Title"`
	ShortDescription string `xml:"ShortDescription"`
	FriendlyURL      string `xml:"FriendlyUrl"`
}

type rbDatasets struct {
	XMLName xml.Name    `xml:"ArrayOfRestDataSet"`
	Items   []rbDataset `xml:"RestDataSet"`
}

type rbDataset struct {
	Title       string `xml:"Title"`
	FriendlyURL string `xml:"FriendlyUrl"`
	DateUpdated string `xml:"DateUpdated"`
}

// Redbridge walks the category, schema and dataset listings of the
// Redbridge DataShare XML API.
type Redbridge struct {
	client *Client
	logger *slog.Logger
}

var _ harvester.Harvester = (*Redbridge)(nil)

func NewRedbridge(client *Client, logger *slog.Logger) *Redbridge {
	return &Redbridge{client: client, logger: logger}
}

func (r *Redbridge) Name() string {
	return "redbridge"
}

func (r *Redbridge) Traits() harvester.Traits {
	return harvester.Traits{Signal: changes.SignalModified}
}

func (r *Redbridge) Validate(sourceconfig.Config) error {
	return nil
}

// Gather fails only when the category root cannot be read. Broken
// categories and schemas are reported and skipped.
func (r *Redbridge) Gather(ctx context.Context, src harvester.Source) (harvester.GatherResult, error) {
	base := strings.TrimRight(src.URL, "/") + "/"

	var root rbCategories
	if err := r.client.GetXML(ctx, base, &root); err != nil {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "connection error for Redbridge API " + base, Err: err}
	}

	var result harvester.GatherResult
	for _, category := range root.Items {
		categoryURL := base + strings.TrimLeft(category.FriendlyURL, "/")

		var schemas rbSchemas
		if err := r.client.GetXML(ctx, categoryURL, &schemas); err != nil {
			r.diagnose(&result, src, "category %s: %v", categoryURL, err)
			continue
		}

		for _, schema := range schemas.Items {
			datasetsURL := strings.TrimRight(categoryURL, "/") + "/" + strings.TrimLeft(schema.FriendlyURL, "/")

			var datasets rbDatasets
			if err := r.client.GetXML(ctx, datasetsURL, &datasets); err != nil {
				r.diagnose(&result, src, "schema %s: %v", datasetsURL, err)
				continue
			}

			for _, item := range datasets.Items {
				result.Datasets = append(result.Datasets, redbridgeDataset(datasetsURL, schema, item))
			}
		}
	}

	if len(result.Datasets) == 0 {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "no datasets found at " + base}
	}
	return result, nil
}

func (r *Redbridge) Fetch(context.Context, harvester.Source, *domain.CanonicalDataset) error {
	return nil
}

// UpstreamURL is the XML download of the dataset.
func (r *Redbridge) UpstreamURL(_ harvester.Source, ds domain.CanonicalDataset) string {
	if len(ds.Resources) == 0 {
		return ""
	}
	return ds.Resources[0].URL
}

func (r *Redbridge) diagnose(result *harvester.GatherResult, src harvester.Source, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	result.Diagnostics = append(result.Diagnostics, msg)
	if r.logger != nil {
		r.logger.Warn("skipping listing", "source", src.Name, "reason", msg)
	}
}

func redbridgeDataset(listURL string, schema rbSchema, item rbDataset) domain.CanonicalDataset {
	title := fmt.Sprintf(redbridgeTitleFmt, schema.Title, item.Title)
	id := sha1Hex(title)
	updated := normalize.Timestamp(item.DateUpdated)

	xmlURL := absoluteURL(listURL, item.FriendlyURL)
	csvURL := strings.ReplaceAll(xmlURL, "XML", "CSV")

	name := normalize.Slug(title)
	if len(name) > maxDatasetNameSize {
		name = name[:maxDatasetNameSize]
	}

	return domain.CanonicalDataset{
		ID:               id,
		Name:             name,
		Title:            title,
		Notes:            schema.ShortDescription,
		LicenseID:        redbridgeLicense,
		MetadataCreated:  updated,
		MetadataModified: updated,
		Resources: []domain.Resource{
			{ID: sha1Hex(xmlURL), URL: xmlURL, Name: item.Title, Format: "xml", LastModified: updated},
			{ID: sha1Hex(csvURL), URL: csvURL, Name: item.Title, Format: "csv", LastModified: updated},
		},
	}
}

func absoluteURL(base, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil || parsed.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(parsed).String()
}

func sha1Hex(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

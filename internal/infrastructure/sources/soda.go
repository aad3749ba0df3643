package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/sourceconfig"
)

const sodaPageSize = 100

type sodaPage struct {
	ResultSetSize int               `json:"resultSetSize"`
	Results       []json.RawMessage `json:"results"`
}

type sodaRecord struct {
	Resource struct {
		ID              string      `json:"id"`
		Name            looseString `json:"name"`
		Description     looseString `json:"description"`
		Attribution     looseString `json:"attribution"`
		AttributionLink looseString `json:"attribution_link"`
		ContactEmail    looseString `json:"contact_email"`
		CreatedAt       looseString `json:"createdAt"`
		UpdatedAt       looseString `json:"updatedAt"`
		BlobMimeType    looseString `json:"blob_mime_type"`
	} `json:"resource"`
	Metadata struct {
		License looseString `json:"license"`
	} `json:"metadata"`
	Creator struct {
		DisplayName looseString `json:"display_name"`
	} `json:"creator"`
	Permalink looseString `json:"permalink"`
}

// Socrata harvests the discovery API of a Socrata open data domain.
type Socrata struct {
	client *Client
	logger *slog.Logger
}

var _ harvester.Harvester = (*Socrata)(nil)

func NewSocrata(client *Client, logger *slog.Logger) *Socrata {
	return &Socrata{client: client, logger: logger}
}

func (s *Socrata) Name() string {
	return "soda"
}

func (s *Socrata) Traits() harvester.Traits {
	return harvester.Traits{Signal: changes.SignalContentHash}
}

// Validate requires an application token.
func (s *Socrata) Validate(cfg sourceconfig.Config) error {
	if strings.TrimSpace(cfg.AppToken) == "" {
		return domain.ConfigErrors{{Field: "app_token", Message: "no application token provided"}}
	}
	return nil
}

// Gather pages through the catalog until resultSetSize records were read
// or a page comes back empty.
func (s *Socrata) Gather(ctx context.Context, src harvester.Source) (harvester.GatherResult, error) {
	base := strings.TrimRight(src.URL, "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "invalid source url " + src.URL, Err: err}
	}
	headers := map[string]string{"X-App-Token": src.Config.AppToken}

	var (
		raw   []json.RawMessage
		total = -1
	)
	for offset := 0; total < 0 || len(raw) < total; offset += sodaPageSize {
		query := url.Values{}
		query.Set("domains", parsed.Host)
		query.Set("limit", strconv.Itoa(sodaPageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page sodaPage
		if err := s.client.GetJSON(ctx, base+"/api/catalog/v1?"+query.Encode(), headers, &page); err != nil {
			return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "catalog request failed", Err: err}
		}
		if total < 0 {
			total = page.ResultSetSize
		}
		if len(page.Results) == 0 {
			break
		}
		raw = append(raw, page.Results...)
		s.info("fetched datasets", "source", src.Name, "fetched", len(raw), "total", total)
	}

	if len(raw) == 0 {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: "no datasets found at " + base}
	}

	records, skipped := decodeRecords[sodaRecord](raw)
	for _, diag := range skipped {
		s.warn("malformed dataset", "source", src.Name, "detail", diag)
	}

	result := harvester.GatherResult{
		Datasets:    make([]domain.CanonicalDataset, 0, len(records)),
		Diagnostics: skipped,
	}
	for _, rec := range records {
		if rec.Resource.ID == "" {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("dataset %q has no id", rec.Resource.Name))
			continue
		}
		result.Datasets = append(result.Datasets, sodaDataset(base, rec))
	}
	return result, nil
}

// Fetch replaces the placeholder dataset-page link with a direct download
// when the file answers.
func (s *Socrata) Fetch(ctx context.Context, src harvester.Source, ds *domain.CanonicalDataset) error {
	if len(ds.Resources) == 0 {
		return nil
	}
	base := strings.TrimRight(src.URL, "/")
	res := &ds.Resources[0]
	title := ds.Title

	var fileURL, format string
	if res.MimeType == "" {
		format = "csv"
		fileURL = fmt.Sprintf("%s/resource/%s.csv", base, ds.ID)
	} else {
		known, ok := normalize.KnownFormat(res.MimeType)
		if !ok {
			return nil
		}
		format = known
		fileURL = fmt.Sprintf("%s/download/%s/%s", base, ds.ID, res.MimeType)
	}

	if !s.client.Reachable(ctx, fileURL, map[string]string{"X-App-Token": src.Config.AppToken}) {
		s.info("download not reachable, linking dataset page", "source", src.Name, "id", ds.ID)
		return nil
	}
	res.URL = fileURL
	res.Format = format
	res.Name = fmt.Sprintf("%s.%s", title, format)
	return nil
}

func (s *Socrata) UpstreamURL(src harvester.Source, ds domain.CanonicalDataset) string {
	if ds.URL != "" {
		return ds.URL
	}
	return sodaDatasetPage(strings.TrimRight(src.URL, "/"), ds.ID)
}

func sodaDataset(base string, rec sodaRecord) domain.CanonicalDataset {
	r := rec.Resource
	title := string(r.Name)
	attribution := string(r.Attribution)
	name := normalize.Slug(title)
	suffix := "-" + strings.ToLower(r.ID)
	if len(name)+len(suffix) > maxDatasetNameSize {
		name = name[:maxDatasetNameSize-len(suffix)]
	}

	created := normalize.Timestamp(string(r.CreatedAt))
	modified := normalize.Timestamp(string(r.UpdatedAt))

	return domain.CanonicalDataset{
		ID:               r.ID,
		Name:             name + suffix,
		Title:            title,
		Notes:            string(r.Description),
		Author:           string(rec.Creator.DisplayName),
		Maintainer:       attribution,
		MaintainerEmail:  normalize.Email(string(r.ContactEmail)),
		LicenseID:        normalize.License(string(rec.Metadata.License)),
		LicenseTitle:     string(rec.Metadata.License),
		URL:              string(rec.Permalink),
		MetadataCreated:  created,
		MetadataModified: modified,
		OwnerOrg:         attribution,
		OrgLink:          string(r.AttributionLink),
		Resources: []domain.Resource{{
			ID:           normalize.ResourceID(r.ID),
			URL:          sodaDatasetPage(base, r.ID),
			Name:         title,
			Format:       "html",
			MimeType:     strings.TrimSpace(strings.Split(string(r.BlobMimeType), ";")[0]),
			Created:      created,
			LastModified: modified,
		}},
	}
}

func sodaDatasetPage(base, id string) string {
	return fmt.Sprintf("%s/dataset/%s", base, id)
}

func (s *Socrata) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Socrata) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

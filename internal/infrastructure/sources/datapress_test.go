package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/sourceconfig"
)

const datapressList = `{
  "success": true,
  "result": [
    {
      "id": "abc123",
      "name": "air-quality",
      "title": "Air Quality",
      "state": "active",
      "private": false,
      "author_email": " Jo Smith@Example.com ",
      "license_id": null,
      "metadata_created": "2020-01-01T09:00:00Z",
      "metadata_modified": "2023-06-27T10:45:57.284Z",
      "owner_org": "org-1",
      "organization": {"id": "org-1", "name": "Greater London Authority", "title": "GLA"},
      "tags": ["Café!!", {"name": "air"}],
      "groups": [{"id": "g1", "name": "environment"}],
      "resources": [
        {"id": "42", "url": "https://example.org/files/readings.csv", "name": "Readings", "format": "", "created": "2020-01-02T03:04:05Z"},
        {"id": "resource-7", "url": "https://airdrive-secure.s3-eu-west-1.amazonaws.com/x", "name": "Map file", "format": "pdf"}
      ]
    },
    {"id": "private1", "name": "hidden", "private": true, "metadata_modified": "2023-01-01T00:00:00"},
    {"id": "harvest1", "name": "source", "type": "harvest", "metadata_modified": "2023-01-01T00:00:00"},
    {
      "id": "brent1",
      "name": "brent-data",
      "metadata_modified": "2023-01-01T00:00:00",
      "organization": {"id": "org-2", "name": "brent", "resources": [{"id": "r1", "url": "https://example.org/brent.xlsx"}]}
    }
  ]
}`

const datapressExport = `[
  {"id": "abc123", "london_smallest_geography": "Borough", "update_frequency": null,
   "resources": {"42": {"temporal_coverage_from": "2020-01-01", "temporal_coverage_to": ""}}},
  {"id": "brent1", "update_frequency": "Monthly", "resources": [{"id": "r1", "temporal_coverage_to": "2021-12-31"}]}
]`

func newDataPressServer(t *testing.T, exportStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"readonly": {"libraryJwt": "jwt-token"}}`))
	})
	mux.HandleFunc("/api/action/current_package_list_with_resources", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Identity") != "jwt-token" {
			_, _ = w.Write([]byte(`{"success": true, "result": []}`))
			return
		}
		_, _ = w.Write([]byte(datapressList))
	})
	mux.HandleFunc("/api/datasets/export.json", func(w http.ResponseWriter, r *http.Request) {
		if exportStatus != http.StatusOK {
			w.WriteHeader(exportStatus)
			return
		}
		_, _ = w.Write([]byte(datapressExport))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func datapressSource(url string) harvester.Source {
	return harvester.Source{
		ID:     "src-1",
		Name:   "london-datastore",
		URL:    url + "/",
		Type:   "datapress",
		Config: sourceconfig.Config{DataPressAPIKey: "secret"},
	}
}

func TestDataPressGatherNormalizes(t *testing.T) {
	t.Parallel()

	server := newDataPressServer(t, http.StatusOK)
	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)

	result, err := h.Gather(context.Background(), datapressSource(server.URL))
	require.NoError(t, err)
	require.Len(t, result.Datasets, 2)

	ds := result.Datasets[0]
	assert.Equal(t, "abc123", ds.ID)
	assert.Equal(t, "Jo%20Smith@Example.com", ds.AuthorEmail)
	assert.Equal(t, "", ds.LicenseID)
	assert.Equal(t, "2023-06-27T10:45:57.284000", ds.MetadataModified)
	assert.Equal(t, "2020-01-01T09:00:00.000000", ds.MetadataCreated)
	assert.Equal(t, []domain.Tag{{Name: "Caf"}, {Name: "air"}}, ds.Tags)
	require.NotNil(t, ds.Organization)
	assert.Equal(t, "org-1", ds.Organization.Name)

	v, ok := ds.Extras.Get(extraLondonSmallestGeography)
	assert.True(t, ok)
	assert.Equal(t, "Borough", v)
	assert.False(t, ds.Extras.Has(extraUpdateFrequency))

	require.Len(t, ds.Resources, 2)
	first := ds.Resources[0]
	assert.Equal(t, "0000042", first.ID)
	assert.Equal(t, "csv", first.Format)
	assert.Equal(t, "2020-01-02", first.Created)
	assert.Equal(t, map[string]string{"temporal_coverage_from": "2020-01-01"}, first.Extras)

	second := ds.Resources[1]
	assert.Equal(t, "https://data.london.gov.uk/download/air-quality/resource-7/Map%20file.pdf", second.URL)

	brent := result.Datasets[1]
	require.Len(t, brent.Resources, 1)
	assert.Equal(t, "00000r1", brent.Resources[0].ID)
	assert.Equal(t, "xlsx", brent.Resources[0].Format)
	assert.Equal(t, map[string]string{"temporal_coverage_to": "2021-12-31"}, brent.Resources[0].Extras)
	freq, _ := brent.Extras.Get(extraUpdateFrequency)
	assert.Equal(t, "Monthly", freq)
}

func TestDataPressGatherSurvivesExportFailure(t *testing.T) {
	t.Parallel()

	server := newDataPressServer(t, http.StatusInternalServerError)
	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)

	result, err := h.Gather(context.Background(), datapressSource(server.URL))
	require.NoError(t, err)
	require.Len(t, result.Datasets, 2)
	assert.False(t, result.Datasets[0].Extras.Has(extraLondonSmallestGeography))
}

func TestDataPressGatherKeepsPrivateWhenConfigured(t *testing.T) {
	t.Parallel()

	server := newDataPressServer(t, http.StatusOK)
	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)

	src := datapressSource(server.URL)
	src.Config.HarvestPrivateDatasets = true
	result, err := h.Gather(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, result.Datasets, 3)
}

func TestDataPressGatherAppliesFilters(t *testing.T) {
	t.Parallel()

	server := newDataPressServer(t, http.StatusOK)
	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)

	src := datapressSource(server.URL)
	src.Config.OrganizationsFilterExclude = []string{"brent"}
	result, err := h.Gather(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, result.Datasets, 1)
	assert.Equal(t, "abc123", result.Datasets[0].ID)

	src = datapressSource(server.URL)
	src.Config.GroupsFilterInclude = []string{"environment"}
	result, err = h.Gather(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, result.Datasets, 1)
}

func TestDataPressGatherEmptyListIsSourceError(t *testing.T) {
	t.Parallel()

	server := newDataPressServer(t, http.StatusOK)
	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)

	src := datapressSource(server.URL)
	src.Config.DataPressAPIKey = ""
	_, err := h.Gather(context.Background(), src)

	var srcErr *domain.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Equal(t, "london-datastore", srcErr.Source)
}

func TestDataPressGatherUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	h := NewDataPress(NewClient(nil, ClientOptions{}), nil, nil)
	src := datapressSource(url)
	src.Config.DataPressAPIKey = ""
	_, err := h.Gather(context.Background(), src)

	var srcErr *domain.SourceError
	assert.True(t, errors.As(err, &srcErr))
}

func TestDataPressGatherSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	const list = `{"success": true, "result": [
	  {"id": "good1", "name": "good", "metadata_modified": "2023-01-01T00:00:00"},
	  {"id": "odd1", "name": "odd", "version": 3, "private": "false", "resources": "n/a", "tags": "none",
	   "author_email": null, "metadata_modified": "2023-02-01T00:00:00"},
	  {"id": "bad1", "name": "bad", "groups": "oops"},
	  {"id": "good2", "name": "good-too", "metadata_modified": "2023-03-01T00:00:00"}
	]}`
	mux := http.NewServeMux()
	mux.HandleFunc("/api/action/current_package_list_with_resources", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(list))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	h := NewDataPress(NewClient(server.Client(), ClientOptions{}), nil, nil)
	src := datapressSource(server.URL)
	src.Config.DataPressAPIKey = ""

	result, err := h.Gather(context.Background(), src)
	require.NoError(t, err)

	ids := make([]string, 0, len(result.Datasets))
	for _, ds := range result.Datasets {
		ids = append(ids, ds.ID)
	}
	assert.Equal(t, []string{"good1", "odd1", "good2"}, ids)

	odd := result.Datasets[1]
	assert.Equal(t, "3", odd.Version)
	assert.False(t, odd.Private)
	assert.Empty(t, odd.Resources)
	assert.Empty(t, odd.Tags)

	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0], `"bad1"`)
}

func TestDataPressResourcesAcceptMapping(t *testing.T) {
	t.Parallel()

	var pkg dpPackage
	raw := `{"id": "x", "resources": {"b": {"url": "u2"}, "a": {"id": "a", "url": "u1"}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &pkg))
	require.Len(t, pkg.Resources, 2)
	assert.Equal(t, "b", pkg.Resources[0].ID)
	assert.Equal(t, "a", pkg.Resources[1].ID)
}

func TestDataPressUpstreamURL(t *testing.T) {
	t.Parallel()

	h := NewDataPress(nil, nil, nil)
	url := h.UpstreamURL(harvester.Source{URL: "https://data.example.org/"}, domain.CanonicalDataset{ID: "abc"})
	assert.Equal(t, "https://data.example.org/dataset/abc", url)
}

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/sourceconfig"
)

func sodaResult(i int, mime string) map[string]any {
	return map[string]any{
		"resource": map[string]any{
			"id":               fmt.Sprintf("ab%02d-cdef", i),
			"name":             fmt.Sprintf("Street Trees %d", i),
			"description":      "Trees on public streets",
			"attribution":      "Camden Council",
			"attribution_link": "https://www.camden.gov.uk",
			"contact_email":    "open.data@camden.gov.uk",
			"createdAt":        "2019-05-01T08:30:00.000Z",
			"updatedAt":        "2023-06-27T10:45:57.284Z",
			"blob_mime_type":   mime,
		},
		"metadata":  map[string]any{"license": "UK Open Government Licence v3"},
		"creator":   map[string]any{"display_name": "Camden Data"},
		"permalink": fmt.Sprintf("https://opendata.camden.gov.uk/d/ab%02d-cdef", i),
	}
}

func newSodaServer(t *testing.T, total int, requests *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/catalog/v1", func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			atomic.AddInt32(requests, 1)
		}
		if r.Header.Get("X-App-Token") != "token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		results := []map[string]any{}
		for i := offset; i < total && i < offset+limit; i++ {
			results = append(results, sodaResult(i, ""))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"resultSetSize": total, "results": results})
	})
	mux.HandleFunc("/download/ab00-cdef/application/pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/resource/ab01-cdef.csv", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func sodaSource(url string) harvester.Source {
	return harvester.Source{Name: "camden", URL: url, Config: sourceconfig.Config{AppToken: "token"}}
}

func TestSocrataGatherPaginates(t *testing.T) {
	t.Parallel()

	var requests int32
	server := newSodaServer(t, 230, &requests)
	s := NewSocrata(NewClient(server.Client(), ClientOptions{}), nil)

	result, err := s.Gather(context.Background(), sodaSource(server.URL))
	require.NoError(t, err)
	assert.Len(t, result.Datasets, 230)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))

	ds := result.Datasets[0]
	assert.Equal(t, "ab00-cdef", ds.ID)
	assert.Equal(t, "street-trees-0-ab00-cdef", ds.Name)
	assert.Equal(t, "OGL-UK-3.0", ds.LicenseID)
	assert.Equal(t, "UK Open Government Licence v3", ds.LicenseTitle)
	assert.Equal(t, "Camden Council", ds.OwnerOrg)
	assert.Equal(t, "https://www.camden.gov.uk", ds.OrgLink)
	assert.Equal(t, "2023-06-27T10:45:57.284000", ds.MetadataModified)
	require.Len(t, ds.Resources, 1)
	assert.Equal(t, server.URL+"/dataset/ab00-cdef", ds.Resources[0].URL)
	assert.Equal(t, "html", ds.Resources[0].Format)
	assert.Equal(t, "https://opendata.camden.gov.uk/d/ab00-cdef", s.UpstreamURL(sodaSource(server.URL), ds))
}

func TestSocrataGatherRejectedTokenIsSourceError(t *testing.T) {
	t.Parallel()

	server := newSodaServer(t, 5, nil)
	s := NewSocrata(NewClient(server.Client(), ClientOptions{}), nil)

	src := sodaSource(server.URL)
	src.Config.AppToken = "wrong"
	_, err := s.Gather(context.Background(), src)

	var srcErr *domain.SourceError
	assert.True(t, errors.As(err, &srcErr))
}

func TestSocrataGatherEmptyCatalog(t *testing.T) {
	t.Parallel()

	server := newSodaServer(t, 0, nil)
	s := NewSocrata(NewClient(server.Client(), ClientOptions{}), nil)

	_, err := s.Gather(context.Background(), sodaSource(server.URL))
	var srcErr *domain.SourceError
	assert.True(t, errors.As(err, &srcErr))
}

func TestSocrataFetchResolvesDownloadLink(t *testing.T) {
	t.Parallel()

	server := newSodaServer(t, 0, nil)
	s := NewSocrata(NewClient(server.Client(), ClientOptions{}), nil)
	src := sodaSource(server.URL)

	withFile := sodaDataset(server.URL, decodeSodaRecord(t, sodaResult(0, "application/pdf")))
	require.NoError(t, s.Fetch(context.Background(), src, &withFile))
	assert.Equal(t, server.URL+"/download/ab00-cdef/application/pdf", withFile.Resources[0].URL)
	assert.Equal(t, "pdf", withFile.Resources[0].Format)
	assert.Equal(t, "Street Trees 0.pdf", withFile.Resources[0].Name)

	missing := sodaDataset(server.URL, decodeSodaRecord(t, sodaResult(1, "")))
	require.NoError(t, s.Fetch(context.Background(), src, &missing))
	assert.Equal(t, server.URL+"/dataset/ab01-cdef", missing.Resources[0].URL)
	assert.Equal(t, "html", missing.Resources[0].Format)

	unknown := sodaDataset(server.URL, decodeSodaRecord(t, sodaResult(2, "application/x-custom")))
	require.NoError(t, s.Fetch(context.Background(), src, &unknown))
	assert.Equal(t, "html", unknown.Resources[0].Format)
}

func TestSocrataValidateRequiresToken(t *testing.T) {
	t.Parallel()

	s := NewSocrata(nil, nil)
	assert.NoError(t, s.Validate(sourceconfig.Config{AppToken: "x"}))
	assert.Error(t, s.Validate(sourceconfig.Config{}))
}

func decodeSodaRecord(t *testing.T, raw map[string]any) sodaRecord {
	t.Helper()
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	var rec sodaRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestSocrataGatherSkipsMalformedRecords(t *testing.T) {
	t.Parallel()

	odd := sodaResult(2, "")
	odd["resource"].(map[string]any)["name"] = 42
	odd["resource"].(map[string]any)["updatedAt"] = 1690000000
	results := []any{sodaResult(0, ""), map[string]any{"resource": "oops"}, odd}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/catalog/v1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			_ = json.NewEncoder(w).Encode(map[string]any{"resultSetSize": len(results), "results": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"resultSetSize": len(results), "results": results})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s := NewSocrata(NewClient(server.Client(), ClientOptions{}), nil)
	result, err := s.Gather(context.Background(), sodaSource(server.URL))
	require.NoError(t, err)

	require.Len(t, result.Datasets, 2)
	assert.Equal(t, "ab00-cdef", result.Datasets[0].ID)
	assert.Equal(t, "ab02-cdef", result.Datasets[1].ID)
	assert.Equal(t, "42", result.Datasets[1].Title)

	require.Len(t, result.Diagnostics, 1)
	assert.Contains(t, result.Diagnostics[0], "#1")
}

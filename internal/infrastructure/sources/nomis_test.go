package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/sourceconfig"
)

const nomisContents = `<html><body>
<form><select name="la">
  <option value="">Choose</option>
  <option value="1946157250">Barnet</option>
  <option value="1946157251">Brent</option>
</select></form>
</body></html>`

const nomisReport = `<html><body>
<div class="summary-stat-overview-section-wrapper">
  <ul class="links-list">
    <li><a href="#ls">Labour Supply</a></li>
    <li><a href="#ed">Employee Jobs</a></li>
  </ul>
</div>
<a name="ls"></a>
<h2>Labour Supply</h2>
<a target="nomisquery" href="/query/ls">query</a>
<table><tbody><tr><td>Economically active</td><td>72.1</td></tr></tbody></table>
<a name="ed"></a>
<h2>Employee Jobs</h2>
<a target="nomisquery" href="/query/ed">query</a>
<table><tbody><tr><td>Jobs</td><td>120,000</td></tr></tbody></table>
</body></html>`

func newNomisServer(t *testing.T, report string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/reports/lmp/la/contents.aspx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(nomisContents))
	})
	mux.HandleFunc("/reports/lmp/la/1946157250/report.aspx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(report))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestNomis(server *httptest.Server) *Nomis {
	n := NewNomis(NewClient(server.Client(), ClientOptions{}), nil)
	n.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNomisGatherExtractsEveryTopic(t *testing.T) {
	t.Parallel()

	server := newNomisServer(t, nomisReport)
	n := newTestNomis(server)

	src := harvester.Source{Name: "nomis", URL: server.URL, Config: sourceconfig.Config{Boroughs: []string{"Barnet"}}}
	result, err := n.Gather(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, result.Datasets, 2)

	ds := result.Datasets[0]
	assert.Equal(t, "nomis_barnet-labour-supply", ds.ID)
	assert.Equal(t, "Barnet Labour Supply", ds.Title)
	assert.Equal(t, "Data about labour supply in Barnet, provided by nomis", ds.Notes)
	assert.Equal(t, "uk-ogl", ds.LicenseID)
	assert.Equal(t, "2024-03-01T12:00:00.000000", ds.MetadataModified)
	assert.Len(t, ds.ContentHash, 32)

	require.Len(t, ds.Resources, 1)
	res := ds.Resources[0]
	assert.Equal(t, "nomis_barnet-labour-supply_ls_sectionlink", res.ID)
	assert.Equal(t, server.URL+"/reports/lmp/la/1946157250/report.aspx#ls", res.URL)
	assert.Equal(t, server.URL+"/query/ls", res.Extras[ExtraQueryLink])
	assert.Equal(t, res.URL, n.UpstreamURL(src, ds))

	assert.Equal(t, "nomis_barnet-employee-jobs", result.Datasets[1].ID)
	assert.NotEqual(t, ds.ContentHash, result.Datasets[1].ContentHash)
}

func TestNomisContentHashIsStableAcrossRuns(t *testing.T) {
	t.Parallel()

	server := newNomisServer(t, nomisReport)
	n := newTestNomis(server)
	src := harvester.Source{Name: "nomis", URL: server.URL, Config: sourceconfig.Config{Boroughs: []string{"Barnet"}}}

	first, err := n.Gather(context.Background(), src)
	require.NoError(t, err)
	n.now = time.Now
	second, err := n.Gather(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, first.Datasets[0].ContentHash, second.Datasets[0].ContentHash)
}

func TestNomisGatherAbortsOnMissingTable(t *testing.T) {
	t.Parallel()

	broken := `<html><body>
<div class="summary-stat-overview-section-wrapper"><ul class="links-list"><li><a href="#ls">Labour Supply</a></li></ul></div>
<a name="ls"></a><a target="nomisquery" href="/query/ls">query</a>
</body></html>`
	server := newNomisServer(t, broken)
	n := newTestNomis(server)

	src := harvester.Source{Name: "nomis", URL: server.URL, Config: sourceconfig.Config{Boroughs: []string{"Barnet"}}}
	_, err := n.Gather(context.Background(), src)

	var srcErr *domain.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Contains(t, srcErr.Error(), "data table")
}

func TestNomisGatherAbortsOnUnlistedBorough(t *testing.T) {
	t.Parallel()

	server := newNomisServer(t, nomisReport)
	n := newTestNomis(server)

	src := harvester.Source{Name: "nomis", URL: server.URL, Config: sourceconfig.Config{Boroughs: []string{"Barnet", "Camden"}}}
	_, err := n.Gather(context.Background(), src)

	var srcErr *domain.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Contains(t, srcErr.Error(), "Camden")
}

func TestNomisValidateBoroughs(t *testing.T) {
	t.Parallel()

	n := NewNomis(nil, nil)
	assert.NoError(t, n.Validate(sourceconfig.Config{Boroughs: []string{"Barnet", "Westminster"}}))

	err := n.Validate(sourceconfig.Config{Boroughs: []string{"Barnet", "Gotham"}})
	var cfgErrs domain.ConfigErrors
	require.True(t, errors.As(err, &cfgErrs))
	require.Len(t, cfgErrs, 1)
	assert.Equal(t, "boroughs", cfgErrs[0].Field)
}

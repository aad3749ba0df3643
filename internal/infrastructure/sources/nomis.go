package sources

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/sourceconfig"
)

const (
	nomisContentsPath = "/reports/lmp/la/contents.aspx"
	nomisReportPath   = "/reports/lmp/la/%s/report.aspx"
	nomisLicense      = "uk-ogl"

	// ExtraQueryLink holds the nomis query page of a section resource.
	ExtraQueryLink = "query_link"
)

// LondonBoroughs is the set of local authorities a nomis source may harvest.
var LondonBoroughs = []string{
	"Barking and Dagenham",
	"Barnet",
	"Bexley",
	"Brent",
	"Bromley",
	"Camden",
	"City of London",
	"Croydon",
	"Ealing",
	"Enfield",
	"Haringey",
	"Harrow",
	"Havering",
	"Hillingdon",
	"Hounslow",
	"Greenwich",
	"Hackney",
	"Hammersmith and Fulham",
	"Islington",
	"Kensington and Chelsea",
	"Kingston-upon-Thames",
	"Lambeth",
	"Lewisham",
	"Merton",
	"Newham",
	"Redbridge",
	"Richmond upon Thames",
	"Southwark",
	"Sutton",
	"Tower Hamlets",
	"Waltham Forest",
	"Wandsworth",
	"Westminster",
}

// Nomis scrapes the nomis local authority labour market profiles.
type Nomis struct {
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

var _ harvester.Harvester = (*Nomis)(nil)

func NewNomis(client *Client, logger *slog.Logger) *Nomis {
	return &Nomis{client: client, logger: logger, now: time.Now}
}

func (n *Nomis) Name() string {
	return "nomis-localauthprofile"
}

func (n *Nomis) Traits() harvester.Traits {
	return harvester.Traits{Signal: changes.SignalContentHash}
}

// Validate rejects boroughs outside LondonBoroughs.
func (n *Nomis) Validate(cfg sourceconfig.Config) error {
	known := make(map[string]struct{}, len(LondonBoroughs))
	for _, b := range LondonBoroughs {
		known[b] = struct{}{}
	}
	var errs domain.ConfigErrors
	for _, b := range cfg.Boroughs {
		if _, ok := known[b]; !ok {
			errs = append(errs, &domain.ConfigError{Field: "boroughs", Message: fmt.Sprintf("unknown borough %q", b)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type nomisTopic struct {
	name     string
	location string
}

type nomisBorough struct {
	name string
	code string
}

// Gather walks every configured borough and every topic of its profile.
// A page missing an expected element aborts the run.
func (n *Nomis) Gather(ctx context.Context, src harvester.Source) (harvester.GatherResult, error) {
	base := strings.TrimRight(src.URL, "/")
	fail := func(reason string, err error) (harvester.GatherResult, error) {
		return harvester.GatherResult{}, &domain.SourceError{Source: src.Name, Reason: reason, Err: err}
	}

	n.info("getting borough ids", "source", src.Name)
	codes, err := n.boroughCodes(ctx, base+nomisContentsPath, src.Config.Boroughs)
	if err != nil {
		return fail("read borough list", err)
	}

	var result harvester.GatherResult
	for _, borough := range codes {
		n.info("extracting datasets", "source", src.Name, "borough", borough.name)

		reportURL := base + fmt.Sprintf(nomisReportPath, borough.code)
		doc, err := n.client.GetDocument(ctx, reportURL)
		if err != nil {
			return fail("fetch report for "+borough.name, err)
		}

		topics, err := extractTopics(doc)
		if err != nil {
			return fail(fmt.Sprintf("report for %s", borough.name), err)
		}
		for _, topic := range topics {
			ds, err := n.dataset(doc, base, reportURL, borough.name, topic)
			if err != nil {
				return fail(fmt.Sprintf("topic %s of %s", topic.name, borough.name), err)
			}
			result.Datasets = append(result.Datasets, ds)
		}
	}

	if len(result.Datasets) == 0 {
		return fail("no datasets extracted", nil)
	}
	n.info("extracted datasets", "source", src.Name, "count", len(result.Datasets))
	return result, nil
}

func (n *Nomis) Fetch(context.Context, harvester.Source, *domain.CanonicalDataset) error {
	return nil
}

// UpstreamURL is the report section the dataset was scraped from.
func (n *Nomis) UpstreamURL(_ harvester.Source, ds domain.CanonicalDataset) string {
	if len(ds.Resources) == 0 {
		return ""
	}
	return ds.Resources[0].URL
}

// boroughCodes returns name/code pairs from the region select, in page order.
func (n *Nomis) boroughCodes(ctx context.Context, contentsURL string, wanted []string) ([]nomisBorough, error) {
	if len(wanted) == 0 {
		wanted = LondonBoroughs
	}
	want := make(map[string]struct{}, len(wanted))
	for _, b := range wanted {
		want[b] = struct{}{}
	}

	doc, err := n.client.GetDocument(ctx, contentsURL)
	if err != nil {
		return nil, err
	}
	options := doc.Find("select").First().Find("option")
	if options.Length() == 0 {
		return nil, fmt.Errorf("region select not found")
	}

	var out []nomisBorough
	options.Each(func(_ int, opt *goquery.Selection) {
		name := strings.TrimSpace(opt.Text())
		code, ok := opt.Attr("value")
		if !ok || code == "" {
			return
		}
		if _, ok := want[name]; ok {
			out = append(out, nomisBorough{name: name, code: code})
			delete(want, name)
		}
	})
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for _, b := range wanted {
			if _, ok := want[b]; ok {
				missing = append(missing, b)
			}
		}
		return nil, fmt.Errorf("boroughs not listed: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func extractTopics(doc *goquery.Document) ([]nomisTopic, error) {
	items := doc.Find(".summary-stat-overview-section-wrapper ul.links-list li")
	if items.Length() == 0 {
		return nil, fmt.Errorf("topic links not found")
	}

	topics := make([]nomisTopic, 0, items.Length())
	var missing error
	items.EachWithBreak(func(_ int, li *goquery.Selection) bool {
		href, ok := li.Find("a").First().Attr("href")
		if !ok || href == "" {
			missing = fmt.Errorf("topic %q has no link", strings.TrimSpace(li.Text()))
			return false
		}
		topics = append(topics, nomisTopic{name: strings.TrimSpace(li.Text()), location: href})
		return true
	})
	if missing != nil {
		return nil, missing
	}
	return topics, nil
}

// dataset locates the topic anchor and takes the first query link and data
// table that follow it in document order.
func (n *Nomis) dataset(doc *goquery.Document, base, reportURL, borough string, topic nomisTopic) (domain.CanonicalDataset, error) {
	anchor := strings.TrimPrefix(topic.location, "#")

	var (
		started   bool
		queryHref string
		table     *goquery.Selection
	)
	doc.Find("a[name], a[target=nomisquery], tbody").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !started {
			if name, _ := s.Attr("name"); goquery.NodeName(s) == "a" && name == anchor {
				started = true
			}
			return true
		}
		if queryHref == "" && goquery.NodeName(s) == "a" {
			if target, _ := s.Attr("target"); target == "nomisquery" {
				queryHref, _ = s.Attr("href")
			}
		}
		if table == nil && goquery.NodeName(s) == "tbody" {
			table = s
		}
		return queryHref == "" || table == nil
	})

	switch {
	case !started:
		return domain.CanonicalDataset{}, fmt.Errorf("anchor %q not found", anchor)
	case queryHref == "":
		return domain.CanonicalDataset{}, fmt.Errorf("query link after %q not found", anchor)
	case table == nil:
		return domain.CanonicalDataset{}, fmt.Errorf("data table after %q not found", anchor)
	}

	sum := md5.Sum([]byte(table.Text()))
	title := borough + " " + topic.name
	id := "nomis_" + normalize.Slug(title)
	modified := normalize.FormatTime(n.now())

	queryURL := queryHref
	if strings.HasPrefix(queryHref, "/") {
		queryURL = base + queryHref
	}

	return domain.CanonicalDataset{
		ID:               id,
		Name:             id,
		Title:            title,
		Notes:            fmt.Sprintf("Data about %s in %s, provided by nomis", strings.ToLower(topic.name), borough),
		LicenseID:        nomisLicense,
		MetadataModified: modified,
		Resources: []domain.Resource{{
			ID:           fmt.Sprintf("%s_%s_sectionlink", id, normalize.Slug(topic.location)),
			URL:          reportURL + topic.location,
			Name:         "nomis data tables",
			Format:       "html",
			LastModified: modified,
			Extras:       map[string]string{ExtraQueryLink: queryURL},
		}},
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (n *Nomis) info(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Info(msg, args...)
	}
}

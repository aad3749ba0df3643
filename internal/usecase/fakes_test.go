package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/sourceconfig"
)

type fakeHarvester struct {
	signal    changes.Signal
	datasets  []domain.CanonicalDataset
	gatherErr error
	fetchFail map[string]error
	// gate, when set, blocks Gather until it is closed.
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeHarvester) Name() string { return "fake" }

func (f *fakeHarvester) Traits() harvester.Traits {
	signal := f.signal
	if signal == "" {
		signal = changes.SignalContentHash
	}
	return harvester.Traits{Signal: signal}
}

func (f *fakeHarvester) Validate(sourceconfig.Config) error { return nil }

func (f *fakeHarvester) Gather(ctx context.Context, _ harvester.Source) (harvester.GatherResult, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.gatherErr != nil {
		return harvester.GatherResult{}, f.gatherErr
	}
	out := make([]domain.CanonicalDataset, len(f.datasets))
	for i, ds := range f.datasets {
		out[i] = ds.Clone()
	}
	return harvester.GatherResult{Datasets: out, Diagnostics: []string{"page 3 skipped"}}, nil
}

func (f *fakeHarvester) Fetch(_ context.Context, _ harvester.Source, ds *domain.CanonicalDataset) error {
	return f.fetchFail[ds.ID]
}

func (f *fakeHarvester) UpstreamURL(_ harvester.Source, ds domain.CanonicalDataset) string {
	return "https://upstream.example/" + ds.ID
}

type fakeCatalog struct {
	mu       sync.Mutex
	datasets map[string]domain.CanonicalDataset
	orgs     []domain.Organization
	groups   []domain.Group
	reject   map[string]error
	writes   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		datasets: map[string]domain.CanonicalDataset{},
		orgs:     []domain.Organization{{ID: "org-1-id", Name: "org-1", Title: "Org One"}},
		reject:   map[string]error{},
	}
}

func (c *fakeCatalog) stored(id string) (domain.CanonicalDataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.datasets[id]
	return ds.Clone(), ok
}

func (c *fakeCatalog) ShowDataset(_ context.Context, id string) (domain.CanonicalDataset, error) {
	if ds, ok := c.stored(id); ok {
		return ds, nil
	}
	return domain.CanonicalDataset{}, &domain.NotFoundError{Kind: "dataset", Ref: id}
}

func (c *fakeCatalog) write(ds domain.CanonicalDataset) (domain.CanonicalDataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reject[ds.ID]; err != nil {
		return domain.CanonicalDataset{}, err
	}
	c.writes++
	c.datasets[ds.ID] = ds.Clone()
	return ds, nil
}

func (c *fakeCatalog) CreateDataset(_ context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error) {
	if _, ok := c.stored(ds.ID); ok {
		return domain.CanonicalDataset{}, &domain.ConflictError{Kind: "dataset", Ref: ds.ID}
	}
	return c.write(ds)
}

func (c *fakeCatalog) UpdateDataset(_ context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error) {
	return c.write(ds)
}

func (c *fakeCatalog) PurgeDataset(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.datasets[id]; !ok {
		return &domain.NotFoundError{Kind: "dataset", Ref: id}
	}
	delete(c.datasets, id)
	return nil
}

func (c *fakeCatalog) SearchHarvestedIDs(_ context.Context, sourceID string) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]struct{}{}
	for id, ds := range c.datasets {
		if v, _ := ds.Extras.Get(domain.ExtraHarvestSourceID); v == sourceID {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (c *fakeCatalog) ShowOrganization(_ context.Context, ref string) (domain.Organization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, org := range c.orgs {
		if org.ID == ref || org.Name == ref {
			return org, nil
		}
	}
	return domain.Organization{}, &domain.NotFoundError{Kind: "organization", Ref: ref}
}

func (c *fakeCatalog) CreateOrganization(_ context.Context, org domain.Organization) (domain.Organization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	org.ID = "org-" + org.Name
	c.orgs = append(c.orgs, org)
	return org, nil
}

func (c *fakeCatalog) ShowGroup(_ context.Context, ref string) (domain.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.groups {
		if g.ID == ref || g.Name == ref {
			return g, nil
		}
	}
	return domain.Group{}, &domain.NotFoundError{Kind: "group", Ref: ref}
}

func (c *fakeCatalog) CreateGroup(_ context.Context, g domain.Group) (domain.Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g.ID = "grp-" + g.Name
	c.groups = append(c.groups, g)
	return g, nil
}

func (c *fakeCatalog) ShowUser(context.Context, string) error { return nil }

type memStore struct {
	mu    sync.Mutex
	jobs  map[string]domain.HarvestJob
	items []domain.WorkItem
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]domain.HarvestJob{}}
}

func copyItem(item domain.WorkItem) domain.WorkItem {
	if item.Dataset != nil {
		ds := item.Dataset.Clone()
		item.Dataset = &ds
	}
	if item.Outcome != nil {
		o := *item.Outcome
		item.Outcome = &o
	}
	return item
}

func (s *memStore) CreateJob(_ context.Context, job domain.HarvestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) Job(_ context.Context, id string) (domain.HarvestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.HarvestJob{}, &domain.NotFoundError{Kind: "job", Ref: id}
	}
	return job, nil
}

func (s *memStore) Enqueue(_ context.Context, items []domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.items = append(s.items, copyItem(item))
	}
	return nil
}

func (s *memStore) Items(_ context.Context, jobID string, state domain.WorkItemState) ([]domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkItem
	for _, item := range s.items {
		if item.JobID == jobID && (state == "" || item.State == state) {
			out = append(out, copyItem(item))
		}
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, item domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = copyItem(item)
			return nil
		}
	}
	return &domain.NotFoundError{Kind: "work item", Ref: item.ID}
}

type journalMock struct {
	mock.Mock
}

func (m *journalMock) SaveRun(ctx context.Context, report domain.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *journalMock) LastRun(ctx context.Context, sourceID string) (domain.RunReport, error) {
	args := m.Called(ctx, sourceID)
	return args.Get(0).(domain.RunReport), args.Error(1)
}

type notifierMock struct {
	mock.Mock
}

func (m *notifierMock) PublishReport(ctx context.Context, report domain.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

type recorderStub struct {
	mu      sync.Mutex
	reports []domain.RunReport
}

func (r *recorderStub) ObserveRun(report domain.RunReport, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

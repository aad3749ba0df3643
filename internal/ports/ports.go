package ports

import (
	"context"
	"time"

	"CatalogHarvester/internal/domain"
)

// Catalog is the target data catalog the harvested records are written to.
type Catalog interface {
	ShowDataset(ctx context.Context, id string) (domain.CanonicalDataset, error)
	CreateDataset(ctx context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error)
	UpdateDataset(ctx context.Context, ds domain.CanonicalDataset) (domain.CanonicalDataset, error)
	// PurgeDataset removes the record permanently so it can be harvested
	// again under the same name.
	PurgeDataset(ctx context.Context, id string) error
	// SearchHarvestedIDs lists the ids of records harvested from a source.
	SearchHarvestedIDs(ctx context.Context, sourceID string) (map[string]struct{}, error)

	ShowOrganization(ctx context.Context, ref string) (domain.Organization, error)
	CreateOrganization(ctx context.Context, org domain.Organization) (domain.Organization, error)
	ShowGroup(ctx context.Context, ref string) (domain.Group, error)
	CreateGroup(ctx context.Context, group domain.Group) (domain.Group, error)
	ShowUser(ctx context.Context, ref string) error
}

// WorkItemStore persists work items between the harvest stages.
type WorkItemStore interface {
	CreateJob(ctx context.Context, job domain.HarvestJob) error
	Job(ctx context.Context, jobID string) (domain.HarvestJob, error)
	Enqueue(ctx context.Context, items []domain.WorkItem) error
	Items(ctx context.Context, jobID string, state domain.WorkItemState) ([]domain.WorkItem, error)
	Save(ctx context.Context, item domain.WorkItem) error
}

// RunRepository keeps the history of finished runs.
type RunRepository interface {
	SaveRun(ctx context.Context, report domain.RunReport) error
	LastRun(ctx context.Context, sourceID string) (domain.RunReport, error)
}

// Notifier publishes run reports to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report domain.RunReport) error
}

// RunRecorder observes finished runs for metrics.
type RunRecorder interface {
	ObserveRun(report domain.RunReport, duration time.Duration)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

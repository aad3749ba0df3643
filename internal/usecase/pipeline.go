package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"CatalogHarvester/internal/changes"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/identity"
	"CatalogHarvester/internal/merge"
	"CatalogHarvester/internal/ports"
)

// ErrRunInProgress is reported when a source is triggered while its
// previous run is still going.
var ErrRunInProgress = errors.New("run already in progress")

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Registry *harvester.Registry
	Catalog  ports.Catalog
	Staging  ports.WorkItemStore
	Resolver *identity.Resolver
	Merger   *merge.Engine
	Journal  ports.RunRepository
	Notifier ports.Notifier
	Recorder ports.RunRecorder
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline runs the GATHER, FETCH and IMPORT stages of a harvest source.
type Pipeline struct {
	registry *harvester.Registry
	catalog  ports.Catalog
	staging  ports.WorkItemStore
	resolver *identity.Resolver
	merger   *merge.Engine
	journal  ports.RunRepository
	notifier ports.Notifier
	recorder ports.RunRecorder
	logger   *slog.Logger
	now      func() time.Time

	running sync.Map
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		registry: deps.Registry,
		catalog:  deps.Catalog,
		staging:  deps.Staging,
		resolver: deps.Resolver,
		merger:   deps.Merger,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.merger == nil {
		p.merger = merge.NewEngine(nil)
	}
	if p.resolver == nil && p.catalog != nil {
		p.resolver = identity.NewResolver(p.catalog, nil, deps.Logger)
	}
	return p
}

// Run executes every stage for src and publishes the report. Failures are
// reported in the returned report and never abort the process.
func (p *Pipeline) Run(ctx context.Context, src harvester.Source) domain.RunReport {
	started := p.now()
	report := domain.RunReport{
		SourceID:   src.ID,
		SourceName: src.Name,
		StartedAt:  started,
		Status:     domain.RunCompleted,
	}

	lock, _ := p.running.LoadOrStore(src.ID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	if !mu.TryLock() {
		p.warn("skipping run", "source", src.Name, "reason", ErrRunInProgress)
		report.Fail(ErrRunInProgress.Error())
		report.FinishedAt = p.now()
		return report
	}
	defer mu.Unlock()

	job, err := p.Gather(ctx, src)
	report.JobID = job.ID
	report.Diagnostics = job.Diagnostics
	if err == nil {
		err = p.Fetch(ctx, src, job.ID)
	}
	if err == nil {
		var imported domain.RunReport
		if imported, err = p.Import(ctx, src, job.ID); err == nil {
			report = imported
		}
	}
	if err != nil {
		report.Fail(err.Error())
	}
	report.FinishedAt = p.now()

	p.publish(ctx, report, report.FinishedAt.Sub(started))
	return report
}

func (p *Pipeline) publish(ctx context.Context, report domain.RunReport, took time.Duration) {
	log := p.logger
	if log != nil {
		log = log.With("source", report.SourceName, "job", report.JobID)
		if report.Status == domain.RunFailed {
			log.Warn("harvest run failed", "error", report.Error)
		} else {
			c := report.Counts
			log.Info("harvest run completed", "created", c.Created, "updated", c.Updated,
				"unchanged", c.Unchanged, "deleted", c.Deleted, "failed", c.Failed, "took", took)
		}
	}

	if p.journal != nil {
		if err := p.journal.SaveRun(ctx, report); err != nil {
			p.warn("journal run", "job", report.JobID, "error", err)
		}
	}
	if p.notifier != nil {
		if err := p.notifier.PublishReport(ctx, report); err != nil {
			p.warn("notify run", "job", report.JobID, "error", err)
		}
	}
	if p.recorder != nil {
		p.recorder.ObserveRun(report, took)
	}
}

// Gather lists the upstream records of src, compares them with the records
// already harvested from it and queues the resulting work. The returned job
// carries an id even when the stage fails; no items are queued then.
func (p *Pipeline) Gather(ctx context.Context, src harvester.Source) (domain.HarvestJob, error) {
	job := domain.HarvestJob{
		ID:         uuid.NewString(),
		SourceID:   src.ID,
		SourceName: src.Name,
		StartedAt:  p.now(),
	}

	h, err := p.registry.Resolve(src.Type)
	if err != nil {
		return job, fmt.Errorf("resolve harvester: %w", err)
	}

	result, err := h.Gather(ctx, src)
	job.Diagnostics = result.Diagnostics
	if err != nil {
		return job, err
	}
	if len(result.Datasets) == 0 {
		return job, &domain.SourceError{Source: src.Name, Reason: "no records found"}
	}

	existing, err := p.catalog.SearchHarvestedIDs(ctx, src.ID)
	if err != nil {
		return job, fmt.Errorf("list harvested records: %w", err)
	}

	part := changes.Diff(result.Datasets, existing, p.logger)
	items := make([]domain.WorkItem, 0, len(part.Upserts)+len(part.Deletes))
	for i := range part.Upserts {
		ds := part.Upserts[i]
		items = append(items, domain.WorkItem{
			ID:       uuid.NewString(),
			JobID:    job.ID,
			SourceID: src.ID,
			GUID:     ds.ID,
			Action:   domain.ActionUpsert,
			Dataset:  &ds,
			State:    domain.StateQueued,
		})
	}
	for _, id := range part.Deletes {
		items = append(items, domain.WorkItem{
			ID:       uuid.NewString(),
			JobID:    job.ID,
			SourceID: src.ID,
			GUID:     id,
			Action:   domain.ActionDelete,
			State:    domain.StateQueued,
		})
	}

	if err := p.staging.CreateJob(ctx, job); err != nil {
		return job, fmt.Errorf("create job: %w", err)
	}
	if err := p.staging.Enqueue(ctx, items); err != nil {
		return job, fmt.Errorf("enqueue items: %w", err)
	}

	p.info("gathered", "source", src.Name, "job", job.ID,
		"upserts", len(part.Upserts), "deletes", len(part.Deletes), "duplicates", len(part.Duplicates))
	return job, nil
}

// Fetch completes every queued item of a job. An item whose fetch fails is
// marked failed and the others carry on.
func (p *Pipeline) Fetch(ctx context.Context, src harvester.Source, jobID string) error {
	h, err := p.registry.Resolve(src.Type)
	if err != nil {
		return fmt.Errorf("resolve harvester: %w", err)
	}

	items, err := p.staging.Items(ctx, jobID, domain.StateQueued)
	if err != nil {
		return fmt.Errorf("load queued items: %w", err)
	}

	failed := 0
	for _, item := range items {
		item = p.fetchItem(ctx, h, src, item)
		if item.State == domain.StateFailed {
			failed++
		}
		if err := p.staging.Save(ctx, item); err != nil {
			return fmt.Errorf("save item %s: %w", item.GUID, err)
		}
	}

	p.info("fetched", "source", src.Name, "job", jobID, "items", len(items), "failed", failed)
	return nil
}

func (p *Pipeline) fetchItem(ctx context.Context, h harvester.Harvester, src harvester.Source, item domain.WorkItem) domain.WorkItem {
	if item.Action == domain.ActionUpsert {
		if item.Dataset == nil {
			item.State = domain.StateFailed
			item.Error = "work item carries no record"
			return item
		}
		if err := h.Fetch(ctx, src, item.Dataset); err != nil {
			itemErr := &domain.ItemError{GUID: item.GUID, Stage: "fetch", Err: err}
			p.warn("fetch failed", "source", src.Name, "guid", item.GUID, "error", err)
			item.State = domain.StateFailed
			item.Error = itemErr.Error()
			return item
		}
	}
	item.State = domain.StateFetched
	return item
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

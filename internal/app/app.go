package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"CatalogHarvester/internal/config"
	"CatalogHarvester/internal/domain"
	"CatalogHarvester/internal/harvester"
	"CatalogHarvester/internal/identity"
	"CatalogHarvester/internal/infrastructure/ckan"
	"CatalogHarvester/internal/infrastructure/httpapi"
	"CatalogHarvester/internal/infrastructure/metrics"
	"CatalogHarvester/internal/infrastructure/scheduler"
	"CatalogHarvester/internal/infrastructure/sources"
	"CatalogHarvester/internal/infrastructure/staging"
	"CatalogHarvester/internal/infrastructure/storage"
	"CatalogHarvester/internal/infrastructure/telegram"
	"CatalogHarvester/internal/logging"
	"CatalogHarvester/internal/merge"
	"CatalogHarvester/internal/normalize"
	"CatalogHarvester/internal/ports"
	"CatalogHarvester/internal/sourceconfig"
	"CatalogHarvester/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *harvester.Registry
	catalog  ports.Catalog
	staging  *staging.SQLiteStore
	db       *sql.DB
	journal  ports.RunRepository
	pipeline *usecase.Pipeline
}

var _ httpapi.Runner = (*Application)(nil)

// New builds the application: upstream client, harvesters, catalog client,
// staging queue and the optional journal and notifier.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	upstream := sources.NewClient(nil, sources.ClientOptions{
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		UserAgent:         cfg.HTTP.UserAgent,
	})
	sniffer := normalize.NewSniffer(upstream, cfg.HTTP.UserAgent, baseLogger.With("component", "sniffer"))

	registry := harvester.NewRegistry()
	registry.Register(sources.NewDataPress(upstream, sniffer, baseLogger.With("component", "harvester.datapress")))
	registry.Register(sources.NewNomis(upstream, baseLogger.With("component", "harvester.nomis")))
	registry.Register(sources.NewRedbridge(upstream, baseLogger.With("component", "harvester.redbridge")))
	registry.Register(sources.NewSocrata(upstream, baseLogger.With("component", "harvester.soda")))

	catalog := ckan.NewClient(cfg.Catalog.URL, cfg.Catalog.APIKey, nil, baseLogger.With("component", "catalog"))

	overrides, err := identity.LoadOverrides(cfg.OrganizationOverrides, baseLogger.With("component", "identity"))
	if err != nil {
		return nil, err
	}

	store, err := staging.Open(cfg.Staging.Path)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		registry: registry,
		catalog:  catalog,
		staging:  store,
	}

	deps := usecase.PipelineDeps{
		Registry: registry,
		Catalog:  catalog,
		Staging:  store,
		Resolver: identity.NewResolver(catalog, overrides, baseLogger.With("component", "identity")),
		Merger:   merge.NewEngine(cfg.Extras.BaselineExtras()),
		Recorder: metrics.NewRecorder(),
		Logger:   baseLogger.With("component", "pipeline"),
	}

	if cfg.Database.DSN != "" {
		db, err := storage.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		journal := storage.NewRunJournal(db)
		if err := journal.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			_ = store.Close()
			return nil, err
		}
		a.db = db
		a.journal = journal
		deps.Journal = journal
	}

	if cfg.Notifications.Telegram.Enabled() {
		t := cfg.Notifications.Telegram
		deps.Notifier = telegram.NewNotifier(t.BotToken, t.ChatID, t.APIBase)
	}

	a.pipeline = usecase.NewPipeline(deps)
	return a, nil
}

// Close releases the staging database and the journal connection.
func (a *Application) Close() error {
	var errs []error
	if a.staging != nil {
		errs = append(errs, a.staging.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// Source builds and validates one configured source by name or id.
func (a *Application) Source(ctx context.Context, ref string) (harvester.Source, error) {
	sc, ok := a.cfg.Source(ref)
	if !ok {
		return harvester.Source{}, &domain.NotFoundError{Kind: "source", Ref: ref}
	}
	return a.buildSource(ctx, sc)
}

func (a *Application) buildSource(ctx context.Context, sc config.SourceConfig) (harvester.Source, error) {
	h, err := a.registry.Resolve(sc.Type)
	if err != nil {
		return harvester.Source{}, &domain.ConfigError{Field: "type", Message: fmt.Sprintf("source %s: %v", sc.Name, err)}
	}

	cfg, err := sourceconfig.Parse(sc.Config)
	if err != nil {
		return harvester.Source{}, err
	}
	if err := h.Validate(cfg); err != nil {
		return harvester.Source{}, err
	}
	groups, err := cfg.Resolve(ctx, a.catalog)
	if err != nil {
		return harvester.Source{}, err
	}

	title := sc.Title
	if title == "" {
		title = sc.Name
	}
	return harvester.Source{
		ID:            sc.ID,
		Name:          sc.Name,
		Title:         title,
		URL:           sc.URL,
		Type:          sc.Type,
		Frequency:     sc.Frequency,
		OwnerOrg:      sc.OwnerOrg,
		Config:        cfg,
		DefaultGroups: groups,
	}, nil
}

// Validate builds every configured source. It returns the valid ones and
// an error naming each invalid one.
func (a *Application) Validate(ctx context.Context) ([]harvester.Source, error) {
	var (
		valid []harvester.Source
		errs  []error
	)
	for _, sc := range a.cfg.Sources {
		src, err := a.buildSource(ctx, sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", sc.Name, err))
			continue
		}
		valid = append(valid, src)
	}
	return valid, errors.Join(errs...)
}

// RunSource runs one source end to end. Only lookup and configuration
// problems are returned as errors; everything else is in the report.
func (a *Application) RunSource(ctx context.Context, ref string) (domain.RunReport, error) {
	src, err := a.Source(ctx, ref)
	if err != nil {
		return domain.RunReport{}, err
	}
	return a.pipeline.Run(ctx, src), nil
}

// LastRun returns the latest journaled run of a source.
func (a *Application) LastRun(ctx context.Context, ref string) (domain.RunReport, error) {
	sc, ok := a.cfg.Source(ref)
	if !ok {
		return domain.RunReport{}, &domain.NotFoundError{Kind: "source", Ref: ref}
	}
	if a.journal == nil {
		return domain.RunReport{}, &domain.ConfigError{Field: "database.dsn", Message: "run journal is not configured"}
	}
	return a.journal.LastRun(ctx, sc.ID)
}

// RunAll runs the named sources, or every valid source when names is
// empty, concurrently with one worker per source.
func (a *Application) RunAll(ctx context.Context, names []string) ([]domain.RunReport, error) {
	var (
		srcs []harvester.Source
		errs []error
	)
	if len(names) == 0 {
		valid, err := a.Validate(ctx)
		srcs, errs = valid, append(errs, err)
	} else {
		for _, name := range names {
			src, err := a.Source(ctx, name)
			if err != nil {
				errs = append(errs, fmt.Errorf("source %s: %w", name, err))
				continue
			}
			srcs = append(srcs, src)
		}
	}

	reports := make([]domain.RunReport, len(srcs))
	var wg sync.WaitGroup
	for i, src := range srcs {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = a.pipeline.Run(ctx, src)
		}()
	}
	wg.Wait()
	return reports, errors.Join(errs...)
}

// Gather runs the GATHER stage of one source and returns the job.
func (a *Application) Gather(ctx context.Context, ref string) (domain.HarvestJob, error) {
	src, err := a.Source(ctx, ref)
	if err != nil {
		return domain.HarvestJob{}, err
	}
	return a.pipeline.Gather(ctx, src)
}

// Fetch runs the FETCH stage of a gathered job.
func (a *Application) Fetch(ctx context.Context, jobID string) error {
	src, err := a.jobSource(ctx, jobID)
	if err != nil {
		return err
	}
	return a.pipeline.Fetch(ctx, src, jobID)
}

// Import runs the IMPORT stage of a job.
func (a *Application) Import(ctx context.Context, jobID string) (domain.RunReport, error) {
	src, err := a.jobSource(ctx, jobID)
	if err != nil {
		return domain.RunReport{}, err
	}
	return a.pipeline.Import(ctx, src, jobID)
}

func (a *Application) jobSource(ctx context.Context, jobID string) (harvester.Source, error) {
	job, err := a.staging.Job(ctx, jobID)
	if err != nil {
		return harvester.Source{}, err
	}
	return a.Source(ctx, job.SourceID)
}

// Serve schedules every valid source and exposes the HTTP surface until
// ctx is cancelled. Invalid sources are logged and left unscheduled.
func (a *Application) Serve(ctx context.Context) error {
	valid, err := a.Validate(ctx)
	if err != nil {
		a.logger.Warn("some sources are invalid and will not be scheduled", "error", err)
	}

	sched := usecase.NewScheduler(a.pipeline, intervalDriver, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx, valid); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           httpapi.NewRouter(a, a.cfg.Server.Secret, a.logger.With("component", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = sched.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(server.Shutdown(shutdownCtx), sched.Stop(shutdownCtx))
}

func intervalDriver(frequency string) (ports.Scheduler, bool, error) {
	interval, scheduled, err := scheduler.IntervalFor(frequency)
	if err != nil || !scheduled {
		return nil, scheduled, err
	}
	return scheduler.NewIntervalScheduler(interval), true, nil
}

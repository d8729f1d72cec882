// Package app builds the long-lived pipeline services from configuration and
// runs them in one-shot or scheduled mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/api"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/archive"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/clock/system"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/config"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/extract"
	collyfetcher "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/fetcher/colly"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/hash/sha256"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/id/uuid"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/notify"
	emailnotify "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/notify/email"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/policy/ratelimit"
	pubsubpub "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/publisher/pubsub"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/scheduler"
	gcsstore "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/storage/gcs"
	localstore "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/storage/local"
	memblob "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/storage/memory"
	memstore "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/store/memory"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/store/postgres"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/telemetry"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/transform"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/vcs"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/workflow"
)

// App holds the services shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	fs     afero.Fs
	clock  *system.Clock
	tracer *sdktrace.TracerProvider

	runs         pipeline.RunStore
	pgStore      *postgres.RunStore
	mirror       pipeline.BlobStore
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *pubsubpub.Publisher
	notifier     pipeline.Notifier

	pipeline  *workflow.Pipeline
	scheduler *scheduler.Scheduler
	apiServer *api.Server
}

// Options overrides pieces of the App for tests.
type Options struct {
	FS        afero.Fs
	Fetcher   pipeline.Fetcher
	VCSRunner vcs.Runner
}

// New builds every service cfg asks for. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	a := &App{cfg: cfg, logger: logger, fs: opts.FS, clock: system.New()}

	steps := []func(context.Context, Options) error{
		a.initTracing,
		a.initRunStore,
		a.initMirror,
		a.initNotifier,
		a.initPipeline,
	}
	for _, step := range steps {
		if err := step(ctx, opts); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) initTracing(ctx context.Context, _ Options) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{ServiceName: a.cfg.DAG.ID})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp
	return nil
}

func (a *App) initRunStore(ctx context.Context, _ Options) error {
	if a.cfg.DB.DSN == "" {
		a.runs = memstore.NewRunStore()
		return nil
	}
	pg, err := postgres.NewRunStore(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.pgStore = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	a.runs = pg
	a.logger.Info("run history stored in postgres", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) initMirror(ctx context.Context, _ Options) error {
	switch a.cfg.Storage.Backend {
	case config.StorageMemory:
		a.mirror = memblob.NewBlobStore()
	case config.StorageLocal:
		store, err := localstore.New(a.fs, localstore.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local mirror: %w", err)
		}
		a.mirror = store
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		a.mirror = store
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context, _ Options) error {
	chain := notify.Multi{notify.NewLog(a.logger.Named("notify"))}
	if a.cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		a.publisher = pubsubpub.New(client)
		chain = append(chain, notify.NewPublish(a.publisher, a.cfg.PubSub.TopicName))
	}
	if (a.cfg.DAG.EmailOnFailure || a.cfg.DAG.EmailOnRetry) && a.cfg.Email.SMTPAddr != "" {
		mailer, err := emailnotify.New(emailnotify.Config{
			SMTPAddr:  a.cfg.Email.SMTPAddr,
			Username:  a.cfg.Email.Username,
			Password:  a.cfg.Email.Password,
			From:      a.cfg.Email.From,
			To:        a.cfg.Email.To,
			OnFailure: a.cfg.DAG.EmailOnFailure,
			OnRetry:   a.cfg.DAG.EmailOnRetry,
		})
		if err != nil {
			return fmt.Errorf("init email alerts: %w", err)
		}
		chain = append(chain, mailer)
	}
	a.notifier = chain
	return nil
}

func (a *App) initPipeline(_ context.Context, opts Options) error {
	tags, err := a.cfg.Tags()
	if err != nil {
		return err
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.HTTP.UserAgent,
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       a.cfg.FetchTimeout(),
		})
	}
	if a.cfg.HTTP.RequestsPerSecond > 0 {
		fetcher = ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.HTTP.RequestsPerSecond,
			Burst: a.cfg.HTTP.Burst,
		}))
	}
	extractor, err := extract.New(fetcher, tags, a.logger.Named("extractor"))
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	transformer := transform.New(a.fs, transform.Config{
		OutputPath: a.cfg.Transform.OutputPath,
		Tags:       tags,
	}, a.logger.Named("transformer"))

	dvc := vcs.NewDVC(vcs.Config{
		RepoDir:   a.cfg.Archive.RepoDir,
		Binary:    a.cfg.VCS.Binary,
		Remote:    a.cfg.VCS.Remote,
		GitCommit: a.cfg.VCS.GitCommit,
		GitBinary: a.cfg.VCS.GitBinary,
	}, opts.VCSRunner, a.logger.Named("vcs"))
	archiver, err := archive.New(archive.Config{
		RepoDir:      a.cfg.Archive.RepoDir,
		DataDir:      a.cfg.Archive.DataDir,
		OnCollision:  a.cfg.Archive.OnCollision,
		VCSPolicy:    a.cfg.VCS.Policy,
		MirrorPrefix: a.cfg.Storage.Prefix,
	}, archive.Deps{
		FS:     a.fs,
		VCS:    dvc,
		Mirror: a.mirror,
		Hasher: sha256.New(),
		Clock:  a.clock,
		Logger: a.logger.Named("archiver"),
	})
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}

	p, err := workflow.New(workflow.Config{
		DAGID:       a.cfg.DAG.ID,
		Description: a.cfg.DAG.Description,
		Args:        a.cfg.DAG.Args(),
		Schedule:    a.cfg.DAG.ScheduleInterval,
		URLs:        a.cfg.Pipeline.URLs,
	}, workflow.Deps{
		Extractor:   extractor,
		Transformer: transformer,
		Archiver:    archiver,
		Runs:        a.runs,
		Notifier:    a.notifier,
		IDs:         uuid.New(),
		Clock:       a.clock,
		Logger:      a.logger.Named("workflow"),
	})
	if err != nil {
		return fmt.Errorf("init workflow: %w", err)
	}
	a.pipeline = p

	sched, err := scheduler.New(p, a.runs, scheduler.Config{
		StartDate:     a.cfg.DAG.StartDate,
		Interval:      a.cfg.DAG.ScheduleInterval,
		DependsOnPast: a.cfg.DAG.DependsOnPast,
	}, a.clock, a.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	a.scheduler = sched
	a.apiServer = api.NewServer(a.runs, sched, a.logger.Named("api"))
	return nil
}

// Runs exposes the run store.
func (a *App) Runs() pipeline.RunStore {
	return a.runs
}

// Tasks lists the DAG's tasks in execution order.
func (a *App) Tasks() ([]string, error) {
	return a.pipeline.Tasks()
}

// RunOnce executes a single run now, honoring the non-overlap guard.
func (a *App) RunOnce(ctx context.Context) (pipeline.Run, error) {
	return a.scheduler.Trigger(ctx, a.clock.Now())
}

// Serve runs the scheduler and the status server until SIGINT/SIGTERM or
// ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	schedErr := a.scheduler.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return schedErr
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

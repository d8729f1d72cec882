// Package workflow wires the extract, transform and archive stages into the
// three-task DAG and records each run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/dag"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/metrics"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

// Task IDs, in execution order.
const (
	TaskExtract   = "extract_task"
	TaskTransform = "transform_task"
	TaskStore     = "store_data"
)

// Config carries the DAG identity and the scrape targets.
type Config struct {
	DAGID       string
	Description string
	Args        dag.DefaultArgs
	Schedule    time.Duration
	URLs        []string
}

// Deps are the collaborators a Pipeline sequences.
type Deps struct {
	Extractor   pipeline.Extractor
	Transformer pipeline.Transformer
	Archiver    pipeline.Archiver
	Runs        pipeline.RunStore
	Notifier    pipeline.Notifier
	IDs         pipeline.IDGenerator
	Clock       pipeline.Clock
	Logger      *zap.Logger
	// Sleep overrides the retry wait; nil uses dag.Sleep.
	Sleep dag.SleepFunc
}

// Pipeline executes one DAG run at a time.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if cfg.DAGID == "" {
		return nil, errors.New("dag id is required")
	}
	if deps.Extractor == nil || deps.Transformer == nil || deps.Archiver == nil {
		return nil, errors.New("extractor, transformer and archiver are required")
	}
	if deps.Runs == nil || deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("run store, id generator and clock are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// DAGID returns the configured DAG identifier.
func (p *Pipeline) DAGID() string {
	return p.cfg.DAGID
}

// Tasks returns the task IDs in the order a run executes them.
func (p *Pipeline) Tasks() ([]string, error) {
	g, err := p.graph(&execution{})
	if err != nil {
		return nil, err
	}
	return g.Order()
}

var tracer = otel.Tracer("github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/workflow")

// execution is the typed state handed from one task to the next.
type execution struct {
	p        *Pipeline
	run      pipeline.Run
	records  []pipeline.PageRecord
	csvPath  string
	artifact pipeline.Artifact
	logger   *zap.Logger
}

func (p *Pipeline) graph(ex *execution) (*dag.Graph, error) {
	g := dag.New(p.cfg.DAGID, p.cfg.Description, p.cfg.Args, p.cfg.Schedule)
	if err := g.Add(TaskExtract, traced(TaskExtract, ex.extract)); err != nil {
		return nil, err
	}
	if err := g.Add(TaskTransform, traced(TaskTransform, ex.transform)); err != nil {
		return nil, err
	}
	if err := g.Add(TaskStore, traced(TaskStore, ex.store)); err != nil {
		return nil, err
	}
	if err := g.Chain(TaskExtract, TaskTransform, TaskStore); err != nil {
		return nil, err
	}
	return g, nil
}

// traced runs each attempt of fn in its own span.
func traced(task string, fn dag.TaskFunc) dag.TaskFunc {
	return func(ctx context.Context) error {
		ctx, span := tracer.Start(ctx, task, trace.WithAttributes(attribute.String("task", task)))
		defer span.End()
		err := fn(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// Execute performs one run for logicalDate. The returned Run is the final
// persisted record; err is non-nil when the run ended FAILED.
func (p *Pipeline) Execute(ctx context.Context, logicalDate time.Time) (pipeline.Run, error) {
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("allocate run id: %w", err)
	}
	ex := &execution{
		p: p,
		run: pipeline.Run{
			ID:          id,
			DAGID:       p.cfg.DAGID,
			LogicalDate: logicalDate.UTC(),
			State:       pipeline.StatePending,
			Attempts:    map[string]int{},
			Started:     p.deps.Clock.Now(),
		},
		logger: p.deps.Logger.With(zap.String("run_id", id)),
	}
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", id),
		attribute.String("dag_id", p.cfg.DAGID),
	))
	defer span.End()
	ex.save(ctx)
	ex.logger.Info("run started", zap.Time("logical_date", ex.run.LogicalDate), zap.Strings("urls", p.cfg.URLs))

	g, err := p.graph(ex)
	if err != nil {
		return ex.finish(ctx, err)
	}
	runner := dag.NewRunner(ex, ex.logger).WithSleep(p.deps.Sleep)
	return ex.finish(ctx, runner.Run(ctx, g))
}

func (ex *execution) extract(ctx context.Context) error {
	records, err := ex.p.deps.Extractor.Extract(ctx, ex.p.cfg.URLs)
	if err != nil {
		return err
	}
	ex.records = records
	ex.run.Records = len(records)
	return nil
}

func (ex *execution) transform(ctx context.Context) error {
	path, err := ex.p.deps.Transformer.Write(ctx, ex.records)
	if err != nil {
		return err
	}
	ex.csvPath = path
	return nil
}

func (ex *execution) store(ctx context.Context) error {
	art, err := ex.p.deps.Archiver.Archive(ctx, ex.csvPath)
	if err != nil {
		return err
	}
	ex.artifact = art
	ex.run.Artifact = &ex.artifact
	return nil
}

func (ex *execution) finish(ctx context.Context, runErr error) (pipeline.Run, error) {
	now := ex.p.deps.Clock.Now()
	ex.run.Finished = &now
	kind := pipeline.EventSuccess
	if runErr != nil {
		ex.run.State = pipeline.StateFailed
		ex.run.ErrorText = runErr.Error()
		kind = pipeline.EventFailure
		ex.logger.Error("run failed", zap.String("task", ex.run.Task), zap.Error(runErr))
		span := trace.SpanFromContext(ctx)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		ex.run.State = pipeline.StateDone
		ex.logger.Info("run finished",
			zap.Int("records", ex.run.Records),
			zap.Duration("elapsed", now.Sub(ex.run.Started)),
		)
	}
	// Cancellation must not prevent the terminal state from being recorded.
	finalCtx := context.WithoutCancel(ctx)
	ex.save(finalCtx)
	metrics.ObserveRun(string(ex.run.State), now)
	ex.notify(finalCtx, pipeline.Event{
		Kind:  kind,
		Task:  ex.taskIfFailed(runErr),
		Error: ex.run.ErrorText,
	})
	return ex.run.Clone(), runErr
}

func (ex *execution) taskIfFailed(err error) string {
	if err == nil {
		return ""
	}
	return ex.run.Task
}

func (ex *execution) save(ctx context.Context) {
	if err := ex.p.deps.Runs.SaveRun(ctx, ex.run.Clone()); err != nil {
		ex.logger.Warn("persist run failed", zap.String("state", string(ex.run.State)), zap.Error(err))
	}
}

func (ex *execution) notify(ctx context.Context, ev pipeline.Event) {
	if ex.p.deps.Notifier == nil {
		return
	}
	ev.RunID = ex.run.ID
	ev.DAGID = ex.run.DAGID
	ev.Owner = ex.p.cfg.Args.Owner
	if ev.Task != "" && ev.Attempt == 0 {
		ev.Attempt = ex.run.Attempts[ev.Task]
	}
	ev.At = ex.p.deps.Clock.Now()
	if err := ex.p.deps.Notifier.Notify(ctx, ev); err != nil {
		ex.logger.Warn("notify failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

var taskStates = map[string]pipeline.State{
	TaskExtract:   pipeline.StateExtracting,
	TaskTransform: pipeline.StateTransforming,
	TaskStore:     pipeline.StateArchiving,
}

// TaskStarted implements dag.Observer.
func (ex *execution) TaskStarted(ctx context.Context, task string, attempt int) {
	ex.run.Task = task
	ex.run.Attempts[task] = attempt
	if state, ok := taskStates[task]; ok {
		ex.run.State = state
	}
	ex.save(ctx)
}

// TaskRetrying implements dag.Observer.
func (ex *execution) TaskRetrying(ctx context.Context, task string, attempt int, err error, _ time.Duration) {
	metrics.ObserveTaskAttempt(task, "retry")
	ex.notify(ctx, pipeline.Event{Kind: pipeline.EventRetry, Task: task, Attempt: attempt, Error: err.Error()})
}

// TaskSucceeded implements dag.Observer.
func (ex *execution) TaskSucceeded(_ context.Context, task string, _ int, elapsed time.Duration) {
	metrics.ObserveTaskAttempt(task, "ok")
	metrics.ObserveTaskDuration(task, elapsed)
}

// TaskFailed implements dag.Observer.
func (ex *execution) TaskFailed(_ context.Context, task string, _ int, _ error) {
	metrics.ObserveTaskAttempt(task, "failed")
}

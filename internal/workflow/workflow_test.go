package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/dag"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/notify"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/publisher/memory"
	memstore "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/store/memory"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/telemetry"
)

type fakeExtractor struct {
	calls   int
	records []pipeline.PageRecord
	errs    []error
}

func (f *fakeExtractor) Extract(_ context.Context, urls []string) ([]pipeline.PageRecord, error) {
	f.calls++
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return nil, &pipeline.FetchError{URL: urls[0], Err: f.errs[f.calls-1]}
	}
	return f.records, nil
}

type fakeTransformer struct {
	calls int
	got   []pipeline.PageRecord
	errs  []error
}

func (f *fakeTransformer) Write(_ context.Context, records []pipeline.PageRecord) (string, error) {
	f.calls++
	f.got = records
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return "", f.errs[f.calls-1]
	}
	return "processed_data.csv", nil
}

type fakeArchiver struct {
	calls int
	src   string
}

func (f *fakeArchiver) Archive(_ context.Context, src string) (pipeline.Artifact, error) {
	f.calls++
	f.src = src
	return pipeline.Artifact{Path: "dvc_storage/data/" + src, RelPath: "data/" + src, Digest: "abc", Versioned: true}, nil
}

type sequenceIDs struct{ n int }

func (s *sequenceIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// recordingStore remembers every state saved, in order.
type recordingStore struct {
	*memstore.RunStore
	states []pipeline.State
}

func (r *recordingStore) SaveRun(ctx context.Context, run pipeline.Run) error {
	r.states = append(r.states, run.State)
	return r.RunStore.SaveRun(ctx, run)
}

type harness struct {
	ext    *fakeExtractor
	tr     *fakeTransformer
	arch   *fakeArchiver
	store  *recordingStore
	pub    *memory.Publisher
	delays []time.Duration
	p      *Pipeline
}

func newHarness(t *testing.T, ext *fakeExtractor, tr *fakeTransformer) *harness {
	t.Helper()
	h := &harness{
		ext:   ext,
		tr:    tr,
		arch:  &fakeArchiver{},
		store: &recordingStore{RunStore: memstore.NewRunStore()},
		pub:   memory.New(),
	}
	p, err := New(Config{
		DAGID:    "automated_data_pipeline",
		Args:     dag.DefaultArgs{Owner: "user", Retries: 1, RetryDelay: 5 * time.Minute},
		Schedule: 24 * time.Hour,
		URLs:     []string{"https://www.dawn.com/", "https://www.bbc.com/"},
	}, Deps{
		Extractor:   ext,
		Transformer: tr,
		Archiver:    h.arch,
		Runs:        h.store,
		Notifier:    notify.NewPublish(h.pub, "runs"),
		IDs:         &sequenceIDs{},
		Clock:       &stepClock{t: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)},
		Sleep: func(_ context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
	})
	require.NoError(t, err)
	h.p = p
	return h
}

func (h *harness) events() []pipeline.Event {
	msgs := h.pub.Messages()
	out := make([]pipeline.Event, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload.(pipeline.Event)
	}
	return out
}

var logicalDate = time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)

func TestExecuteHappyPath(t *testing.T) {
	t.Parallel()

	records := []pipeline.PageRecord{{Tag: pipeline.TagH1, Text: "Hello"}, {Tag: pipeline.TagP, Text: " World \n"}}
	h := newHarness(t, &fakeExtractor{records: records}, &fakeTransformer{})

	run, err := h.p.Execute(context.Background(), logicalDate)
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, pipeline.StateDone, run.State)
	assert.Equal(t, logicalDate, run.LogicalDate)
	assert.Equal(t, 2, run.Records)
	require.NotNil(t, run.Artifact)
	assert.Equal(t, "dvc_storage/data/processed_data.csv", run.Artifact.Path)
	assert.Equal(t, map[string]int{TaskExtract: 1, TaskTransform: 1, TaskStore: 1}, run.Attempts)
	require.NotNil(t, run.Finished)
	assert.Empty(t, run.ErrorText)

	assert.Equal(t, records, h.tr.got)
	assert.Equal(t, "processed_data.csv", h.arch.src)
	assert.Equal(t, []pipeline.State{
		pipeline.StatePending,
		pipeline.StateExtracting,
		pipeline.StateTransforming,
		pipeline.StateArchiving,
		pipeline.StateDone,
	}, h.store.states)

	saved, err := h.store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateDone, saved.State)

	events := h.events()
	require.Len(t, events, 1)
	assert.Equal(t, pipeline.EventSuccess, events[0].Kind)
	assert.Equal(t, "user", events[0].Owner)
	assert.Empty(t, h.delays)
}

func TestExecuteRetriesOnlyFailedTask(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{records: []pipeline.PageRecord{{Tag: pipeline.TagP, Text: "x"}}}
	tr := &fakeTransformer{errs: []error{&pipeline.SerializationError{Row: -1, Reason: "disk full"}}}
	h := newHarness(t, ext, tr)

	run, err := h.p.Execute(context.Background(), logicalDate)
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateDone, run.State)
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, 2, tr.calls)
	assert.Equal(t, 2, run.Attempts[TaskTransform])
	assert.Equal(t, []time.Duration{5 * time.Minute}, h.delays)

	events := h.events()
	require.Len(t, events, 2)
	assert.Equal(t, pipeline.EventRetry, events[0].Kind)
	assert.Equal(t, TaskTransform, events[0].Task)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Contains(t, events[0].Error, "disk full")
	assert.Equal(t, pipeline.EventSuccess, events[1].Kind)
}

func TestExecuteFailsAfterRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	ext := &fakeExtractor{errs: []error{boom, boom}}
	tr := &fakeTransformer{}
	h := newHarness(t, ext, tr)

	run, err := h.p.Execute(context.Background(), logicalDate)
	require.Error(t, err)

	var fetchErr *pipeline.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://www.dawn.com/", fetchErr.URL)
	var taskErr *dag.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, TaskExtract, taskErr.Task)

	assert.Equal(t, pipeline.StateFailed, run.State)
	assert.Equal(t, TaskExtract, run.Task)
	assert.Contains(t, run.ErrorText, "connection refused")
	assert.Equal(t, 0, tr.calls)
	assert.Equal(t, 0, h.arch.calls)

	events := h.events()
	require.Len(t, events, 2)
	assert.Equal(t, pipeline.EventRetry, events[0].Kind)
	assert.Equal(t, pipeline.EventFailure, events[1].Kind)
	assert.Equal(t, TaskExtract, events[1].Task)
	assert.Equal(t, 2, events[1].Attempt)
}

func TestExecuteCanceledContextStillRecordsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeExtractor{}, &fakeTransformer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := h.p.Execute(ctx, logicalDate)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, pipeline.StateFailed, run.State)

	saved, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateFailed, saved.State)
	assert.Equal(t, 0, h.ext.calls)
}

func TestTasksOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeExtractor{}, &fakeTransformer{})
	tasks, err := h.p.Tasks()
	require.NoError(t, err)
	assert.Equal(t, []string{TaskExtract, TaskTransform, TaskStore}, tasks)
	assert.Equal(t, "automated_data_pipeline", h.p.DAGID())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{DAGID: "d"}, Deps{Extractor: &fakeExtractor{}, Transformer: &fakeTransformer{}, Archiver: &fakeArchiver{}})
	assert.Error(t, err)
}

func TestExecuteRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := telemetry.InitTracerProvider(context.Background(), telemetry.Config{Exporter: exporter, Sync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := &fakeTransformer{errs: []error{errors.New("disk full")}}
	h := newHarness(t, &fakeExtractor{}, tr)
	_, err = h.p.Execute(context.Background(), logicalDate)
	require.NoError(t, err)

	var names []string
	var failed int
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
		if s.Status.Code == codes.Error {
			failed++
		}
	}
	assert.Equal(t, []string{TaskExtract, TaskTransform, TaskTransform, TaskStore, "pipeline.run"}, names)
	assert.Equal(t, 1, failed)
}

package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/config"
	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
	memblob "github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/storage/memory"
)

type pageFetcher map[string]string

func (f pageFetcher) Fetch(_ context.Context, url string) (pipeline.FetchResponse, error) {
	body, ok := f[url]
	if !ok {
		return pipeline.FetchResponse{}, errors.New("status 404: Not Found")
	}
	return pipeline.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+args[0])
	return nil, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Pipeline.URLs = []string{"https://a.test/", "https://b.test/"}
	cfg.Storage.Backend = config.StorageMemory
	return cfg
}

func TestRunOnceArchivesDataset(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	runner := &recordingRunner{}
	a, err := New(context.Background(), testConfig(t), zaptest.NewLogger(t), Options{
		FS: fs,
		Fetcher: pageFetcher{
			"https://a.test/": "<h1>Hello</h1>",
			"https://b.test/": "<p>World</p>",
		},
		VCSRunner: runner,
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	run, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateDone, run.State)
	assert.Equal(t, 2, run.Records)
	require.NotNil(t, run.Artifact)
	assert.True(t, run.Artifact.Versioned)

	data, err := afero.ReadFile(fs, run.Artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "HTML_Tag,Text\nh1,Hello\np,World\n", string(data))
	exists, err := afero.Exists(fs, "processed_data.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, []string{"dvc add", "dvc commit", "dvc push"}, runner.calls)

	mirror, ok := a.mirror.(*memblob.BlobStore)
	require.True(t, ok)
	assert.Len(t, mirror.Paths(), 1)

	saved, err := a.Runs().GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateDone, saved.State)
}

func TestRunOnceRecordsFetchFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DAG.Retries = 0
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t), Options{
		FS:        afero.NewMemMapFs(),
		Fetcher:   pageFetcher{"https://a.test/": "<h1>only</h1>"},
		VCSRunner: &recordingRunner{},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	run, err := a.RunOnce(context.Background())
	require.Error(t, err)
	var fetchErr *pipeline.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://b.test/", fetchErr.URL)
	assert.Equal(t, pipeline.StateFailed, run.State)
	assert.Equal(t, "extract_task", run.Task)
}

func TestTasksInOrder(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), nil, Options{FS: afero.NewMemMapFs(), Fetcher: pageFetcher{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	tasks, err := a.Tasks()
	require.NoError(t, err)
	assert.Equal(t, []string{"extract_task", "transform_task", "store_data"}, tasks)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Port = 0
	cfg.DAG.StartDate = time.Now().Add(time.Hour)
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t), Options{FS: afero.NewMemMapFs(), Fetcher: pageFetcher{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.scheduler.Started() }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

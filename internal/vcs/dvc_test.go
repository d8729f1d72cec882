package vcs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/pipeline"
)

type call struct {
	dir  string
	line string
}

type fakeRunner struct {
	calls  []call
	failOn string
	output string
}

func (f *fakeRunner) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call{dir: dir, line: line})
	if f.failOn != "" && strings.HasPrefix(line, f.failOn) {
		return []byte(f.output), errors.New("exit status 1")
	}
	return []byte("ok\n"), nil
}

func (f *fakeRunner) lines() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.line
	}
	return out
}

func TestDVCSequence(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDVC(Config{RepoDir: "dvc_storage"}, runner, nil)
	ctx := context.Background()

	require.NoError(t, d.Stage(ctx, "data/processed_data.csv"))
	require.NoError(t, d.Commit(ctx, "data/processed_data.csv", "unused without git"))
	require.NoError(t, d.Push(ctx))

	assert.Equal(t, []string{
		"dvc add data/processed_data.csv",
		"dvc commit -f data/processed_data.csv",
		"dvc push",
	}, runner.lines())
	for _, c := range runner.calls {
		assert.Equal(t, "dvc_storage", c.dir)
	}
}

func TestDVCWithGitAndRemote(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDVC(Config{RepoDir: "repo", Remote: "s3", GitCommit: true, Binary: "/usr/bin/dvc"}, runner, nil)
	ctx := context.Background()

	require.NoError(t, d.Stage(ctx, "data/processed_data.csv"))
	require.NoError(t, d.Commit(ctx, "data/processed_data.csv", "dataset update"))
	require.NoError(t, d.Push(ctx))

	assert.Equal(t, []string{
		"/usr/bin/dvc add data/processed_data.csv",
		"git add data/processed_data.csv.dvc data/.gitignore",
		"/usr/bin/dvc commit -f data/processed_data.csv",
		"git commit --allow-empty -m dataset update",
		"/usr/bin/dvc push -r s3",
	}, runner.lines())
}

func TestDVCStageWithGitAddsPointerFiles(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDVC(Config{GitCommit: true}, runner, nil)

	require.NoError(t, d.Stage(context.Background(), "data/nested/out.csv"))
	assert.Equal(t, []string{
		"dvc add data/nested/out.csv",
		"git add data/nested/out.csv.dvc data/nested/.gitignore",
	}, runner.lines())
}

func TestDVCFailureCarriesOutput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failOn: "dvc push", output: "Collecting files\nERROR: failed to push data to the cloud\n"}
	d := NewDVC(Config{}, runner, nil)

	err := d.Push(context.Background())
	var vcsErr *pipeline.VersionControlError
	require.ErrorAs(t, err, &vcsErr)
	assert.Equal(t, pipeline.VCSPush, vcsErr.Op)
	assert.Contains(t, vcsErr.Output, "failed to push")
	assert.Equal(t, "vcs push: exit status 1: ERROR: failed to push data to the cloud", err.Error())
}

func TestDVCStageStopsBeforeGitOnFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failOn: "dvc add"}
	d := NewDVC(Config{GitCommit: true}, runner, nil)

	err := d.Stage(context.Background(), "data/x.csv")
	var vcsErr *pipeline.VersionControlError
	require.ErrorAs(t, err, &vcsErr)
	assert.Equal(t, pipeline.VCSStage, vcsErr.Op)
	assert.Equal(t, "data/x.csv", vcsErr.Path)
	assert.Len(t, runner.calls, 1)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := ExecRunner{}.Run(context.Background(), "", "definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}

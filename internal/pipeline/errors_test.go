package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsUnwrapThroughContext(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("extract_task: %w", &FetchError{URL: "https://example.com", Err: cause})

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://example.com", fetchErr.URL)
	assert.ErrorIs(t, err, cause)
}

func TestMoveErrorWrapsDestinationExists(t *testing.T) {
	t.Parallel()

	err := &MoveError{Src: "a.csv", Dst: "data/a.csv", Err: ErrDestinationExists}
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, "move a.csv -> data/a.csv: destination already exists", err.Error())

	notFound := &MoveError{Src: "a.csv", Dst: "data/a.csv", Err: fs.ErrNotExist}
	assert.ErrorIs(t, notFound, fs.ErrNotExist)
}

func TestVersionControlErrorMessageUsesLastOutputLine(t *testing.T) {
	t.Parallel()

	err := &VersionControlError{
		Op:     VCSPush,
		Output: "Collecting files\nERROR: failed to push data to the cloud\n",
		Err:    errors.New("exit status 1"),
	}
	assert.Equal(t, "vcs push: exit status 1: ERROR: failed to push data to the cloud", err.Error())

	withPath := &VersionControlError{Op: VCSStage, Path: "data/x.csv", Err: errors.New("exit status 255")}
	assert.Equal(t, "vcs stage data/x.csv: exit status 255", withPath.Error())
}

func TestSerializationErrorMessage(t *testing.T) {
	t.Parallel()

	rowErr := &SerializationError{Row: 3, Reason: `unknown html tag "div"`}
	assert.Equal(t, `serialize dataset row 3: unknown html tag "div"`, rowErr.Error())

	headerErr := &SerializationError{Row: -1, Reason: "bad header"}
	assert.Equal(t, "serialize dataset: bad header", headerErr.Error())
}

func TestParseTag(t *testing.T) {
	t.Parallel()

	tag, err := ParseTag(" H2 ")
	require.NoError(t, err)
	assert.Equal(t, TagH2, tag)

	_, err = ParseTag("div")
	assert.Error(t, err)

	for _, tag := range DefaultTags {
		assert.True(t, tag.Valid(), tag)
	}
}

func TestRunCloneIsDeep(t *testing.T) {
	t.Parallel()

	run := Run{
		ID:       "r1",
		Attempts: map[string]int{"extract_task": 1},
		Artifact: &Artifact{Path: "p", VCSErrors: []string{"x"}},
	}
	cp := run.Clone()
	cp.Attempts["extract_task"] = 2
	cp.Artifact.VCSErrors[0] = "y"

	assert.Equal(t, 1, run.Attempts["extract_task"])
	assert.Equal(t, "x", run.Artifact.VCSErrors[0])
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateArchiving.Terminal())
}

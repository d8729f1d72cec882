package local_test

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhammadAhmedSuhail/MLOPS-A2/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store, err := local.New(fs, local.Config{BaseDir: "/mirror"})
		require.NoError(t, err)
		assert.NotNil(t, store)
		ok, err := afero.DirExists(fs, "/mirror")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(afero.NewMemMapFs(), local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/file", []byte("x"), 0o600))
		_, err := local.New(fs, local.Config{BaseDir: "/file"})
		assert.Error(t, err)
	})

	t.Run("RealDirectory", func(t *testing.T) {
		_, err := local.New(nil, local.Config{BaseDir: t.TempDir()})
		assert.NoError(t, err)
	})
}

func TestPutObject(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := local.New(fs, local.Config{BaseDir: "/mirror"})
	require.NoError(t, err)

	t.Run("NestedPath", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "datasets/2026/processed_data.csv", "text/csv", strings.NewReader("HTML_Tag,Text\n"))
		require.NoError(t, err)
		assert.Equal(t, "file:///mirror/datasets/2026/processed_data.csv", uri)

		data, err := afero.ReadFile(fs, "/mirror/datasets/2026/processed_data.csv")
		require.NoError(t, err)
		assert.Equal(t, "HTML_Tag,Text\n", string(data))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/csv", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.csv", "text/csv", strings.NewReader("data"))
		assert.ErrorContains(t, err, "traversal")
	})
}

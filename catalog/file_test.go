package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogDoc = `
providers:
  - id: prof-x
    name: Prof X
    subject: Physics
    rate: 50
    rating: 4.8
    available: true
subjects:
  - id: physics
    name: Physics
    description: Mechanics through quantum
`

func writeCatalog(t *testing.T, path, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestOpenFileLoadsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeCatalog(t, path, catalogDoc)

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	p, err := f.Provider(context.Background(), "prof-x")
	require.NoError(t, err)
	assert.Equal(t, "Prof X", p.Name)
	assert.True(t, p.Available)

	subjects, err := f.Subjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Physics", subjects[0].Name)

	_, err = f.Provider(context.Background(), "nope")
	require.ErrorIs(t, err, ErrProviderUnknown)
}

func TestFileHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeCatalog(t, path, catalogDoc)

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	flipped := `
providers:
  - id: prof-x
    name: Prof X
    subject: Physics
    rate: 50
    rating: 4.8
    available: false
`
	writeCatalog(t, path, flipped)

	require.Eventually(t, func() bool {
		p, err := f.Provider(context.Background(), "prof-x")
		return err == nil && !p.Available
	}, 3*time.Second, 20*time.Millisecond, "reload never picked up availability flip")
}

func TestFileReloadKeepsLastGoodOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeCatalog(t, path, catalogDoc)

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	writeCatalog(t, path, "providers: [:::not yaml")

	// Give the watcher a beat to attempt (and reject) the reload.
	time.Sleep(200 * time.Millisecond)

	p, err := f.Provider(context.Background(), "prof-x")
	require.NoError(t, err)
	assert.Equal(t, "Prof X", p.Name)
}

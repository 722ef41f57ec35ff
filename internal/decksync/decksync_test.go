package decksync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thevivotran/studytest/internal/importer"
	"github.com/thevivotran/studytest/internal/storage"
)

func setup(t *testing.T) (*storage.DB, *Runner) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runner := New(db, importer.New(db), filepath.Join(t.TempDir(), "repos"))
	return db, runner
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/user/decks", KindLocal},
		{"decks", KindLocal},
		{"https://example.com/decks.git", KindGit},
		{"https://example.com/decks", KindGit},
		{"git@example.com:user/decks.git", KindGit},
		{"/home/user/decks.git", KindGit},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DetectKind(tc.path), tc.path)
	}
}

func TestRun_NoSources(t *testing.T) {
	_, runner := setup(t)
	require.NoError(t, runner.Run(context.Background()))
}

func TestRun_ImportsNewDecksFromLocalSource(t *testing.T) {
	db, runner := setup(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "geography.csv"), "Capital?,Paris,London,Berlin,Paris,Madrid\n")
	writeFile(t, filepath.Join(dir, "astronomy.csv"), "Largest planet?,Jupiter,Mars,Jupiter,Venus,Saturn\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a deck")

	id, err := db.InsertSource(ctx, dir, KindLocal)
	require.NoError(t, err)

	require.NoError(t, runner.Run(ctx))

	datasets, err := db.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "astronomy", datasets[0].Name)
	assert.Equal(t, "geography", datasets[1].Name)

	sources, err := db.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, id, sources[0].ID)
	assert.True(t, sources[0].LastScanned.Valid)
}

func TestRun_SkipsExistingDatasetNames(t *testing.T) {
	db, runner := setup(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "geography.csv"), "Capital?,Paris,London,Berlin,Paris,Madrid\n")

	_, err := db.InsertSource(ctx, dir, KindLocal)
	require.NoError(t, err)

	require.NoError(t, runner.Run(ctx))

	// Annotate the imported card, then sync again; the deck must not be
	// re-imported or overwritten.
	datasets, err := db.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	cards, err := db.Cards(ctx, datasets[0].ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	ok, err := db.UpdateNotes(ctx, cards[0].ID, "keep me")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, runner.Run(ctx))

	datasets, err = db.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	cards, err = db.Cards(ctx, datasets[0].ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "keep me", cards[0].Notes)
}

func TestRun_BadDeckFileDoesNotStopTheScan(t *testing.T) {
	db, runner := setup(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.csv"), "only,three,fields\n")
	writeFile(t, filepath.Join(dir, "valid.csv"), "Capital?,Paris,London,Berlin,Paris,Madrid\n")

	_, err := db.InsertSource(ctx, dir, KindLocal)
	require.NoError(t, err)

	require.NoError(t, runner.Run(ctx))

	datasets, err := db.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "valid", datasets[0].Name)
}

func TestGitURLToLocalPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/user/decks.git", filepath.Join("base", "example.com", "user", "decks")},
		{"git@example.com:user/decks.git", filepath.Join("base", "example.com", "user", "decks")},
	}
	for _, tc := range tests {
		got, err := gitURLToLocalPath("base", tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}

	_, err := gitURLToLocalPath("base", "not a url at all")
	require.Error(t, err)
}

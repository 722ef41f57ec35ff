package decksync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/thevivotran/studytest/internal/gitsource"
	"github.com/thevivotran/studytest/internal/importer"
	"github.com/thevivotran/studytest/internal/storage"
)

// Source kinds.
const (
	KindLocal = "local"
	KindGit   = "git"
)

// DetectKind classifies a source path as a git remote or a local directory.
func DetectKind(path string) string {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return KindGit
	}
	return KindLocal
}

// Runner scans registered deck sources for CSV files and imports every file
// whose dataset name is not taken yet. Sync is additive: existing datasets
// are never overwritten, so user notes and review flags survive.
type Runner struct {
	db       *storage.DB
	importer *importer.Importer
	cacheDir string
}

func New(db *storage.DB, imp *importer.Importer, cacheDir string) *Runner {
	return &Runner{db: db, importer: imp, cacheDir: cacheDir}
}

// Run iterates over all sources and imports any new decks found in them.
// Per-file failures are logged and do not stop the run.
func (r *Runner) Run(ctx context.Context) error {
	sources, err := r.db.Sources(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No deck sources configured")
		return nil
	}

	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	for _, source := range sources {
		slog.Info("Syncing deck source", "id", source.ID, "kind", source.Kind, "path", source.Path)

		dir := source.Path
		if source.Kind == KindGit {
			localPath, err := gitURLToLocalPath(r.cacheDir, source.Path)
			if err != nil {
				slog.Error("Error determining local path for git source", "url", source.Path, "error", err)
				continue
			}
			if err := gitsource.Sync(source.Path, localPath); err != nil {
				slog.Error("Error syncing git source", "url", source.Path, "error", err)
				continue
			}
			dir = localPath
		}

		r.scanDir(ctx, source.ID, dir)
	}

	slog.Info("Deck sync complete")
	return nil
}

func (r *Runner) scanDir(ctx context.Context, sourceID int64, dir string) {
	var imported, skipped, failed int

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".csv") {
			return nil
		}

		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		existing, err := r.db.DatasetIDByName(ctx, name)
		if err != nil {
			slog.Error("Error checking dataset name", "name", name, "error", err)
			failed++
			return nil
		}
		if existing != 0 {
			skipped++
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Error reading deck file", "path", path, "error", err)
			failed++
			return nil
		}

		report, err := r.importer.Import(ctx, name, content)
		if err != nil {
			if errors.Is(err, importer.ErrDuplicateName) {
				skipped++
				return nil
			}
			slog.Error("Error importing deck file", "path", path, "error", err)
			failed++
			return nil
		}

		slog.Info("Imported deck", "name", name, "cards", report.CardsAdded)
		imported++
		return nil
	})

	if walkErr != nil {
		slog.Error("Error walking source directory", "path", dir, "error", walkErr)
		return
	}

	if err := r.db.TouchSource(ctx, sourceID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	slog.Info("Source scan complete",
		"path", dir,
		"imported", imported,
		"skipped", skipped,
		"failed", failed,
	)
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}

package tle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/star/satpass/internal/apperr"
)

// Archive keeps previously fetched element sets so a provider outage can
// fall back to the newest copy on hand.
type Archive interface {
	// Save stores es. Implementations keep a bounded history per satellite.
	Save(ctx context.Context, es ElementSet) error
	// Latest returns the newest stored set for noradID, or an apperr
	// NotFound error when none exists.
	Latest(ctx context.Context, noradID int) (ElementSet, error)
	Close() error
}

// FileArchive manages element set files on disk, one directory per
// satellite, each file named by the unix time it was fetched.
type FileArchive struct {
	dir      string
	maxFiles int
}

// NewFileArchive creates a FileArchive that stores files under dir and keeps
// at most maxFiles per satellite.
func NewFileArchive(dir string, maxFiles int) *FileArchive {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &FileArchive{
		dir:      dir,
		maxFiles: maxFiles,
	}
}

// Save writes es to a timestamped file and prunes old files beyond maxFiles.
func (a *FileArchive) Save(_ context.Context, es ElementSet) error {
	dir := a.satDir(es.NORADID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	ts := es.FetchedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	path := filepath.Join(dir, fmt.Sprintf("tle_%d.txt", ts.Unix()))

	// Write to a temp file first so a crash never leaves a torn entry.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(es.Text()), 0644); err != nil {
		return fmt.Errorf("writing archive file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing archive file: %w", err)
	}

	return a.prune(dir)
}

// Latest reads the newest archive file for noradID by the timestamp in its
// filename.
func (a *FileArchive) Latest(_ context.Context, noradID int) (ElementSet, error) {
	dir := a.satDir(noradID)
	files, err := listArchiveFiles(dir)
	if err != nil {
		return ElementSet{}, err
	}
	if len(files) == 0 {
		return ElementSet{}, apperr.NotFound("archive.latest", "no archived elements for %d", noradID)
	}

	// Files are sorted oldest first; take the last one.
	latest := files[len(files)-1]
	data, err := os.ReadFile(filepath.Join(dir, latest.name))
	if err != nil {
		return ElementSet{}, fmt.Errorf("reading archive file: %w", err)
	}

	es, err := ParseOne(string(data))
	if err != nil {
		return ElementSet{}, fmt.Errorf("parsing archive file %s: %w", latest.name, err)
	}
	es.Source = "archive"
	es.FetchedAt = latest.ts
	return es, nil
}

// Close is a no-op for the file archive.
func (a *FileArchive) Close() error { return nil }

func (a *FileArchive) satDir(noradID int) string {
	return filepath.Join(a.dir, strconv.Itoa(noradID))
}

type archiveFile struct {
	name string
	ts   time.Time
}

func listArchiveFiles(dir string) ([]archiveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archive dir: %w", err)
	}

	var files []archiveFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "tle_") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		// Extract unix timestamp from filename.
		tsStr := strings.TrimSuffix(strings.TrimPrefix(name, "tle_"), ".txt")
		unix, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		files = append(files, archiveFile{name: name, ts: time.Unix(unix, 0).UTC()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (a *FileArchive) prune(dir string) error {
	files, err := listArchiveFiles(dir)
	if err != nil {
		return err
	}

	if len(files) <= a.maxFiles {
		return nil
	}

	// Remove oldest files.
	for _, f := range files[:len(files)-a.maxFiles] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil {
			return fmt.Errorf("pruning archive file %s: %w", f.name, err)
		}
	}

	return nil
}

// Package store persists run state on disk: per-SIC status files,
// append-only master output files, resolved-company caches, and run
// summaries. Everything goes through the Store interface so the file
// layout could be swapped for an embedded database without touching
// the pipeline.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/seenimoa/openedgar/pkg/models"
)

// PersistenceError wraps a failed durable write. The orchestrator
// treats it as fatal for the SIC run it occurred in.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the persistence surface the pipeline runs against.
type Store interface {
	// EnsureStatus merges the company list into the SIC's status file,
	// creating pending rows for unknown identifiers while keeping
	// existing rows, and returns the merged view.
	EnsureStatus(sic int, companies []models.Company) (map[string]models.StatusEntry, error)
	// LoadStatus reads the SIC's status file. Missing file yields an
	// empty map.
	LoadStatus(sic int) (map[string]models.StatusEntry, error)
	// SetStatus rewrites one row atomically.
	SetStatus(sic int, entry models.StatusEntry) error

	// Commit durably appends the ticker's records to the master file
	// and only then flips its status to completed. Serialized
	// internally so concurrent ticker completions cannot interleave.
	Commit(sic int, ticker string, records []models.ExtractedRecord) error
	// Reconcile drops master rows whose ticker is not marked
	// completed, repairing a crash that landed between append and
	// flip. Returns the number of rows dropped.
	Reconcile(sic int) (int, error)
	// ReadRecords loads the SIC's master rows. Missing file yields nil.
	ReadRecords(sic int) ([]models.ExtractedRecord, error)
	// RecordCount reports how many rows the SIC's master file holds.
	RecordCount(sic int) (int, error)

	// LoadCompanies returns the cached company list for a SIC code.
	// ok is false on a cache miss.
	LoadCompanies(sic int) (companies []models.Company, ok bool, err error)
	// SaveCompanies writes the SIC's company cache.
	SaveCompanies(sic int, companies []models.Company) error

	// SaveSummary writes the run summary JSON for a SIC code.
	SaveSummary(summary models.RunSummary) error
}

// FileStore implements Store with CSV/TSV/JSON files under an output
// directory and a cache directory.
type FileStore struct {
	mu        sync.Mutex
	outputDir string
	cacheDir  string
}

// NewFileStore creates a FileStore rooted at the given directories,
// creating them when absent.
func NewFileStore(outputDir, cacheDir string) (*FileStore, error) {
	for _, dir := range []string{outputDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Op: "create directory " + dir, Err: err}
		}
	}
	return &FileStore{outputDir: outputDir, cacheDir: cacheDir}, nil
}

func (s *FileStore) statusPath(sic int) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("status_%d.csv", sic))
}

func (s *FileStore) masterPath(sic int) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("master_%d.tsv", sic))
}

func (s *FileStore) summaryPath(sic int) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("summary_%d.json", sic))
}

func (s *FileStore) companiesPath(sic int) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("companies_sic_%d.csv", sic))
}

// SaveSummary writes the run summary as indented JSON.
func (s *FileStore) SaveSummary(summary models.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode summary", Err: err}
	}
	err = writeFileAtomic(s.summaryPath(summary.SICCode), func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	})
	if err != nil {
		return &PersistenceError{Op: "write summary", Err: err}
	}
	return nil
}

// writeFileAtomic writes via a temp file in the target directory,
// fsyncs, then renames over the destination.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

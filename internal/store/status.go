package store

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

var statusHeader = []string{"ticker", "status", "updated_at", "error"}

// EnsureStatus merges companies into the SIC's status file. Existing
// rows win; unknown identifiers get pending rows. The merged view is
// returned so the caller can compute resume work in one pass.
func (s *FileStore) EnsureStatus(sic int, companies []models.Company) (map[string]models.StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readStatus(sic)
	if err != nil {
		return nil, err
	}

	changed := false
	now := time.Now().UTC()
	for _, c := range companies {
		id := c.Identifier()
		if _, ok := entries[id]; ok {
			continue
		}
		entries[id] = models.StatusEntry{
			Ticker:    id,
			Status:    models.StatusPending,
			UpdatedAt: now,
		}
		changed = true
	}

	if changed || len(entries) == 0 {
		if err := s.writeStatus(sic, entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// LoadStatus reads the SIC's status file. A missing file is an empty map.
func (s *FileStore) LoadStatus(sic int) (map[string]models.StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readStatus(sic)
}

// SetStatus rewrites a single row through an atomic replace of the
// whole file, so a torn write can never corrupt other rows.
func (s *FileStore) SetStatus(sic int, entry models.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(sic, entry)
}

func (s *FileStore) setStatusLocked(sic int, entry models.StatusEntry) error {
	entries, err := s.readStatus(sic)
	if err != nil {
		return err
	}
	entries[entry.Ticker] = entry
	return s.writeStatus(sic, entries)
}

func (s *FileStore) readStatus(sic int) (map[string]models.StatusEntry, error) {
	entries := make(map[string]models.StatusEntry)

	f, err := os.Open(s.statusPath(sic))
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "open status file", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(statusHeader)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &PersistenceError{Op: "read status file", Err: err}
		}
		if row[0] == statusHeader[0] {
			continue // header
		}
		updated, _ := time.Parse(time.RFC3339, row[2])
		entries[row[0]] = models.StatusEntry{
			Ticker:    row[0],
			Status:    models.Status(row[1]),
			UpdatedAt: updated,
			Err:       row[3],
		}
	}
	return entries, nil
}

func (s *FileStore) writeStatus(sic int, entries map[string]models.StatusEntry) error {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := writeFileAtomic(s.statusPath(sic), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(statusHeader); err != nil {
			return err
		}
		for _, id := range ids {
			e := entries[id]
			row := []string{
				e.Ticker,
				string(e.Status),
				e.UpdatedAt.UTC().Format(time.RFC3339),
				e.Err,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return &PersistenceError{Op: "write status file", Err: err}
	}
	return nil
}

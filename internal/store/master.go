package store

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

// Master file layout: one tab-separated row per extracted record, MDA
// text last with tabs/newlines escaped. Append-only during a run;
// rewritten only by Reconcile.
const masterColumns = 7

// Commit appends the ticker's records with an fsync, then flips the
// status row to completed. The ordering is what makes a crash safe:
// records land before the flip, and Reconcile drops records whose
// flip never landed. Holding mu across both writes serializes
// concurrent ticker completions.
func (s *FileStore) Commit(sic int, ticker string, records []models.ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) > 0 {
		if err := s.appendRecords(sic, records); err != nil {
			return err
		}
	}
	return s.setStatusLocked(sic, models.StatusEntry{
		Ticker:    ticker,
		Status:    models.StatusCompleted,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *FileStore) appendRecords(sic int, records []models.ExtractedRecord) error {
	f, err := os.OpenFile(s.masterPath(sic), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Op: "open master file", Err: err}
	}
	defer f.Close()

	var b strings.Builder
	for _, rec := range records {
		b.WriteString(formatMasterLine(rec))
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return &PersistenceError{Op: "append master file", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &PersistenceError{Op: "sync master file", Err: err}
	}
	return nil
}

// Reconcile removes master rows whose ticker is not marked completed,
// along with unparseable rows left by a torn append. Returns the
// number of rows dropped.
func (s *FileStore) Reconcile(sic int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readStatus(sic)
	if err != nil {
		return 0, err
	}
	completed := func(ticker string) bool {
		e, ok := entries[ticker]
		return ok && e.Status == models.StatusCompleted
	}

	var kept []string
	dropped := 0
	err = s.forEachMasterLine(sic, func(line string) {
		rec, ok := parseMasterLine(line)
		if !ok || !completed(rec.Ticker) {
			dropped++
			return
		}
		kept = append(kept, line)
	})
	if err != nil {
		return 0, err
	}
	if dropped == 0 {
		return 0, nil
	}

	err = writeFileAtomic(s.masterPath(sic), func(w io.Writer) error {
		for _, line := range kept {
			if _, werr := io.WriteString(w, line+"\n"); werr != nil {
				return werr
			}
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Op: "rewrite master file", Err: err}
	}
	return dropped, nil
}

// ReadRecords loads all master rows. A missing file yields nil.
func (s *FileStore) ReadRecords(sic int) ([]models.ExtractedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.ExtractedRecord
	err := s.forEachMasterLine(sic, func(line string) {
		if rec, ok := parseMasterLine(line); ok {
			records = append(records, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordCount reports the number of parseable master rows.
func (s *FileStore) RecordCount(sic int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	err := s.forEachMasterLine(sic, func(line string) {
		if _, ok := parseMasterLine(line); ok {
			count++
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// forEachMasterLine streams the master file line by line. MDA rows can
// run to megabytes, hence the buffered reader instead of a scanner.
func (s *FileStore) forEachMasterLine(sic int, fn func(line string)) error {
	f, err := os.Open(s.masterPath(sic))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "open master file", Err: err}
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			fn(strings.TrimSuffix(line, "\n"))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &PersistenceError{Op: "read master file", Err: err}
		}
	}
}

func formatMasterLine(rec models.ExtractedRecord) string {
	fields := []string{
		escapeField(rec.Ticker),
		escapeField(rec.CIK),
		escapeField(rec.Title),
		escapeField(rec.AccessionID),
		escapeField(rec.FilingDate),
		rec.ProcessedAt.UTC().Format(time.RFC3339),
		escapeField(rec.MDAText),
	}
	return strings.Join(fields, "\t") + "\n"
}

func parseMasterLine(line string) (models.ExtractedRecord, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) != masterColumns {
		return models.ExtractedRecord{}, false
	}
	processedAt, err := time.Parse(time.RFC3339, parts[5])
	if err != nil {
		return models.ExtractedRecord{}, false
	}
	return models.ExtractedRecord{
		Ticker:      unescapeField(parts[0]),
		CIK:         unescapeField(parts[1]),
		Title:       unescapeField(parts[2]),
		AccessionID: unescapeField(parts[3]),
		FilingDate:  unescapeField(parts[4]),
		ProcessedAt: processedAt,
		MDAText:     unescapeField(parts[6]),
	}, true
}

var fieldEscaper = strings.NewReplacer("\\", `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

func unescapeField(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/openedgar/internal/edgar"
	"github.com/seenimoa/openedgar/internal/extract"
	"github.com/seenimoa/openedgar/pkg/models"
)

// Source is the slice of the EDGAR client the pipeline consumes.
// *edgar.Client satisfies it.
type Source interface {
	Resolve(ctx context.Context, sic int, cache edgar.CompanyCache) ([]models.Company, error)
	ListFilings(ctx context.Context, company models.Company, start, end time.Time) ([]models.FilingReference, error)
	Download(ctx context.Context, ref models.FilingReference, destDir string) (models.RawFilingDocument, error)
}

// Processor turns one registrant's filings into master-file records.
type Processor struct {
	source  Source
	workDir string
	start   time.Time
	end     time.Time
	workers int
	log     *slog.Logger
}

// NewProcessor builds a Processor extracting filings dated within
// [start, end], running at most workers document jobs at a time.
func NewProcessor(source Source, workDir string, start, end time.Time, workers int, log *slog.Logger) *Processor {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		source:  source,
		workDir: workDir,
		start:   start,
		end:     end,
		workers: workers,
		log:     log,
	}
}

// document is one filing body on disk, ready for extraction.
type document struct {
	path        string
	accessionID string
	filingDate  string
}

// ProcessTicker extracts the MDA section from every 10-K the company
// filed in the window. Documents already on disk from an earlier run
// are reused instead of downloaded. One document's failure never stops
// its siblings: whatever extracted cleanly is returned alongside the
// per-document errors.
func (p *Processor) ProcessTicker(ctx context.Context, company models.Company) ([]models.ExtractedRecord, []error) {
	id := company.Identifier()
	log := p.log.With("ticker", id)

	var (
		mu       sync.Mutex
		records  []models.ExtractedRecord
		failures []error
	)
	keep := func(rec models.ExtractedRecord) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}
	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	if local := p.localDocuments(id); len(local) > 0 {
		log.Debug("reusing downloaded filings", "count", len(local))
		for _, doc := range local {
			if gctx.Err() != nil {
				break
			}
			doc := doc
			g.Go(func() error {
				text, err := extract.ExtractFile(doc.path)
				if err != nil {
					fail(fmt.Errorf("%s: %w", doc.accessionID, err))
					return nil
				}
				keep(p.record(company, doc.accessionID, doc.filingDate, text))
				return nil
			})
		}
	} else {
		refs, err := p.source.ListFilings(ctx, company, p.start, p.end)
		if err != nil {
			return nil, []error{err}
		}
		log.Debug("filings in range", "count", len(refs))
		for _, ref := range refs {
			if gctx.Err() != nil {
				break
			}
			ref := ref
			g.Go(func() error {
				destDir := filepath.Join(p.workDir, id, ref.AccessionID)
				raw, err := p.source.Download(gctx, ref, destDir)
				if err != nil {
					fail(fmt.Errorf("%s: %w", ref.AccessionID, err))
					return nil
				}
				text, err := extract.ExtractFile(raw.LocalPath)
				if err != nil {
					fail(fmt.Errorf("%s: %w", ref.AccessionID, err))
					return nil
				}
				keep(p.record(company, ref.AccessionID, ref.FilingDate, text))
				return nil
			})
		}
	}

	// Workers return nil and report through the failures slice, so the
	// group error is always nil.
	_ = g.Wait()

	sortRecords(records)
	return records, failures
}

// localDocuments maps what Collect found back to accessions, reading
// the metadata.json written at download time for the filing date. A
// directory without metadata still extracts, it just loses the date.
func (p *Processor) localDocuments(id string) []document {
	var docs []document
	for _, path := range Collect(p.workDir, id) {
		dir := filepath.Dir(path)
		doc := document{path: path, accessionID: filepath.Base(dir)}
		if meta, err := readMetadata(filepath.Join(dir, "metadata.json")); err == nil {
			doc.accessionID = meta.AccessionID
			doc.filingDate = meta.FilingDate
		}
		docs = append(docs, doc)
	}
	return docs
}

func (p *Processor) record(company models.Company, accessionID, filingDate, text string) models.ExtractedRecord {
	return models.ExtractedRecord{
		Ticker:      company.Identifier(),
		CIK:         company.CIK,
		Title:       company.Title,
		AccessionID: accessionID,
		FilingDate:  filingDate,
		MDAText:     text,
		ProcessedAt: time.Now().UTC(),
	}
}

func readMetadata(path string) (models.FilingMetadata, error) {
	var meta models.FilingMetadata
	raw, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// sortRecords orders by filing date then accession so concurrent
// extraction cannot reorder a ticker's rows between runs.
func sortRecords(records []models.ExtractedRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].FilingDate != records[j].FilingDate {
			return records[i].FilingDate < records[j].FilingDate
		}
		return records[i].AccessionID < records[j].AccessionID
	})
}

// Package pipeline coordinates SIC runs end to end: resolve the
// registrants behind a SIC code, pull and extract their 10-K filings
// with bounded worker pools, commit results through the store, and
// report a summary per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/openedgar/internal/edgar"
	"github.com/seenimoa/openedgar/internal/extract"
	"github.com/seenimoa/openedgar/internal/store"
	"github.com/seenimoa/openedgar/pkg/models"
)

// Options configures an Orchestrator.
type Options struct {
	Source  Source
	Store   store.Store
	WorkDir string
	Start   time.Time
	End     time.Time

	// CompanyWorkers bounds concurrent registrants per SIC code,
	// FilingWorkers concurrent documents per registrant. The shared
	// rate limiter inside the EDGAR client throttles the product.
	CompanyWorkers int
	FilingWorkers  int

	Policy  models.FailurePolicy
	KeepRaw bool
	Logger  *slog.Logger

	// OnProgress, when set, receives an event at every state and
	// ticker transition. Calls are serialized.
	OnProgress func(models.ProgressEvent)
}

// Orchestrator drives SIC runs through the
// PENDING/RESOLVING/PROCESSING/AGGREGATING state machine and keeps the
// latest summary per SIC for the monitor API.
type Orchestrator struct {
	source     Source
	store      store.Store
	processor  *Processor
	workDir    string
	policy     models.FailurePolicy
	keepRaw    bool
	workers    int
	log        *slog.Logger
	onProgress func(models.ProgressEvent)

	mu        sync.Mutex
	summaries map[int]models.RunSummary

	eventMu sync.Mutex
}

// New builds an Orchestrator from Options, filling in defaults for
// anything unset.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.CompanyWorkers < 1 {
		opts.CompanyWorkers = 1
	}
	if opts.FilingWorkers < 1 {
		opts.FilingWorkers = 1
	}
	policy := opts.Policy
	if policy == "" {
		policy = models.PolicyMarkFailed
	}
	return &Orchestrator{
		source:     opts.Source,
		store:      opts.Store,
		processor:  NewProcessor(opts.Source, opts.WorkDir, opts.Start, opts.End, opts.FilingWorkers, log),
		workDir:    opts.WorkDir,
		policy:     policy,
		keepRaw:    opts.KeepRaw,
		workers:    opts.CompanyWorkers,
		log:        log,
		onProgress: opts.OnProgress,
		summaries:  make(map[int]models.RunSummary),
	}
}

// Run processes each SIC code in turn. One SIC's failure never stops
// the others; cancellation stops before the next SIC is dispatched.
func (o *Orchestrator) Run(ctx context.Context, sicCodes []int) []models.RunSummary {
	summaries := make([]models.RunSummary, 0, len(sicCodes))
	for _, sic := range sicCodes {
		if ctx.Err() != nil {
			break
		}
		summaries = append(summaries, o.RunSIC(ctx, sic))
	}
	return summaries
}

// RunSIC executes the full state machine for one SIC code and returns
// its summary. The summary is also written to the output directory.
func (o *Orchestrator) RunSIC(ctx context.Context, sic int) models.RunSummary {
	sum := models.RunSummary{
		RunID:     uuid.NewString(),
		SICCode:   sic,
		State:     models.StatePending,
		Failures:  make(map[string]int),
		StartedAt: time.Now().UTC(),
	}
	runID := sum.RunID
	log := o.log.With("sic", sic, "run_id", runID)

	var mu sync.Mutex
	// touch mutates the summary under the lock and republishes a
	// snapshot so the monitor API always sees a consistent view.
	touch := func(apply func(*models.RunSummary)) {
		mu.Lock()
		apply(&sum)
		snap := sum.Copy()
		mu.Unlock()
		o.publish(snap)
	}

	o.setState(&sum, models.StatePending)

	// Repair whatever an interrupted run left half-committed before
	// trusting the master file.
	if dropped, err := o.store.Reconcile(sic); err != nil {
		return o.fail(&sum, log, fmt.Errorf("reconcile master file: %w", err))
	} else if dropped > 0 {
		log.Warn("dropped uncommitted master rows", "rows", dropped)
	}

	o.setState(&sum, models.StateResolving)
	companies, err := o.source.Resolve(ctx, sic, o.store)
	if err != nil {
		var lookupErr *edgar.LookupError
		if errors.As(err, &lookupErr) {
			// A SIC with no registrants is a normal outcome.
			log.Warn("no registrants for sic code", "reason", lookupErr.Reason)
			return o.finish(&sum, log)
		}
		return o.fail(&sum, log, fmt.Errorf("resolve companies: %w", err))
	}
	sum.CompaniesTotal = len(companies)
	log.Info("resolved registrants", "companies", len(companies))

	statuses, err := o.store.EnsureStatus(sic, companies)
	if err != nil {
		return o.fail(&sum, log, err)
	}
	pending := make([]models.Company, 0, len(companies))
	for _, company := range companies {
		if statuses[company.Identifier()].Status == models.StatusCompleted {
			sum.CompaniesSkipped++
			continue
		}
		pending = append(pending, company)
	}
	if sum.CompaniesSkipped > 0 {
		log.Info("resuming earlier run", "skipped", sum.CompaniesSkipped, "pending", len(pending))
	}

	o.setState(&sum, models.StateProcessing)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, company := range pending {
		if gctx.Err() != nil {
			break
		}
		company := company
		g.Go(func() error {
			id := company.Identifier()
			o.emit(runID, sic, id, "processing", "")

			records, failures := o.processor.ProcessTicker(gctx, company)
			touch(func(s *models.RunSummary) {
				for _, ferr := range failures {
					s.Failures[categorize(ferr)]++
				}
			})

			if len(records) == 0 && len(failures) > 0 {
				reason := failures[0].Error()
				if len(failures) > 1 {
					reason = fmt.Sprintf("%s (+%d more)", reason, len(failures)-1)
				}
				log.Warn("no document yielded a record",
					"ticker", id, "documents", len(failures), "error", failures[0])

				if o.policy == models.PolicyMarkProcessed {
					if err := o.store.Commit(sic, id, nil); err != nil {
						touch(func(s *models.RunSummary) { s.Failures[models.FailurePersistence]++ })
						return err
					}
					touch(func(s *models.RunSummary) { s.CompaniesProcessed++ })
					o.emit(runID, sic, id, "ticker_done", "no records")
					return nil
				}
				entry := models.StatusEntry{
					Ticker:    id,
					Status:    models.StatusFailed,
					UpdatedAt: time.Now().UTC(),
					Err:       reason,
				}
				if err := o.store.SetStatus(sic, entry); err != nil {
					touch(func(s *models.RunSummary) { s.Failures[models.FailurePersistence]++ })
					return err
				}
				touch(func(s *models.RunSummary) { s.CompaniesFailed++ })
				o.emit(runID, sic, id, "ticker_failed", reason)
				return nil
			}

			if err := o.store.Commit(sic, id, records); err != nil {
				touch(func(s *models.RunSummary) { s.Failures[models.FailurePersistence]++ })
				return err
			}
			touch(func(s *models.RunSummary) {
				s.CompaniesProcessed++
				s.RecordsWritten += len(records)
			})
			log.Info("ticker committed",
				"ticker", id, "records", len(records), "document_failures", len(failures))
			o.emit(runID, sic, id, "ticker_done", fmt.Sprintf("%d records", len(records)))
			return nil
		})
	}
	// Only persistence failures surface through the group; everything
	// per-document travels in the failure buckets.
	if err := g.Wait(); err != nil {
		return o.fail(&sum, log, err)
	}
	if err := ctx.Err(); err != nil {
		return o.fail(&sum, log, fmt.Errorf("run interrupted: %w", err))
	}

	o.setState(&sum, models.StateAggregating)
	if !o.keepRaw {
		o.sweepRaw(log, sic)
	}
	return o.finish(&sum, log)
}

// Summaries returns the latest summary per SIC code, ordered by code.
func (o *Orchestrator) Summaries() []models.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.RunSummary, 0, len(o.summaries))
	for _, sum := range o.summaries {
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SICCode < out[j].SICCode })
	return out
}

// Summary returns the tracked summary for one SIC code.
func (o *Orchestrator) Summary(sic int) (models.RunSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sum, ok := o.summaries[sic]
	return sum, ok
}

// categorize buckets an error for the run summary using the typed
// failures each stage returns.
func categorize(err error) string {
	var (
		transientErr *edgar.TransientError
		lookupErr    *edgar.LookupError
		parseErr     *extract.ParseError
		storeErr     *store.PersistenceError
	)
	switch {
	case errors.As(err, &transientErr):
		return models.FailureTransient
	case errors.As(err, &lookupErr), errors.Is(err, edgar.ErrNotFound):
		return models.FailureLookup
	case errors.As(err, &parseErr):
		return models.FailureParse
	case errors.As(err, &storeErr):
		return models.FailurePersistence
	default:
		return models.FailureOther
	}
}

// sweepRaw removes downloaded documents for registrants that reached
// completed status. Failed tickers keep theirs so a retry can skip the
// downloads.
func (o *Orchestrator) sweepRaw(log *slog.Logger, sic int) {
	statuses, err := o.store.LoadStatus(sic)
	if err != nil {
		log.Warn("raw document sweep skipped", "error", err)
		return
	}
	for id, entry := range statuses {
		if entry.Status != models.StatusCompleted {
			continue
		}
		dir := filepath.Join(o.workDir, id)
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("remove raw documents", "dir", dir, "error", err)
		}
	}
}

func (o *Orchestrator) setState(sum *models.RunSummary, state models.RunState) {
	sum.State = state
	o.publish(sum.Copy())
	o.emit(sum.RunID, sum.SICCode, "", strings.ToLower(string(state)), "")
}

func (o *Orchestrator) finish(sum *models.RunSummary, log *slog.Logger) models.RunSummary {
	sum.State = models.StateDone
	sum.FinishedAt = time.Now().UTC()
	o.conclude(sum, log)
	log.Info("run done",
		"companies", sum.CompaniesTotal,
		"processed", sum.CompaniesProcessed,
		"failed", sum.CompaniesFailed,
		"skipped", sum.CompaniesSkipped,
		"records", sum.RecordsWritten)
	return *sum
}

func (o *Orchestrator) fail(sum *models.RunSummary, log *slog.Logger, err error) models.RunSummary {
	sum.State = models.StateFailed
	sum.Error = err.Error()
	sum.FinishedAt = time.Now().UTC()
	o.conclude(sum, log)
	log.Error("run failed", "error", err)
	return *sum
}

// conclude publishes the terminal summary and persists it.
func (o *Orchestrator) conclude(sum *models.RunSummary, log *slog.Logger) {
	o.publish(sum.Copy())
	o.emit(sum.RunID, sum.SICCode, "", strings.ToLower(string(sum.State)), sum.Error)
	if err := o.store.SaveSummary(*sum); err != nil {
		log.Warn("save run summary", "error", err)
	}
}

func (o *Orchestrator) publish(sum models.RunSummary) {
	o.mu.Lock()
	o.summaries[sum.SICCode] = sum
	o.mu.Unlock()
}

func (o *Orchestrator) emit(runID string, sic int, ticker, stage, msg string) {
	if o.onProgress == nil {
		return
	}
	event := models.ProgressEvent{
		RunID:   runID,
		SICCode: sic,
		Ticker:  ticker,
		Stage:   stage,
		Message: msg,
		Time:    time.Now().UTC(),
	}
	o.eventMu.Lock()
	o.onProgress(event)
	o.eventMu.Unlock()
}

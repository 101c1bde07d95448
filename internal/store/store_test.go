package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "out"), filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func testCompanies(n int) []models.Company {
	companies := make([]models.Company, 0, n)
	for i := 0; i < n; i++ {
		companies = append(companies, models.Company{
			Ticker:  fmt.Sprintf("TCK%d", i),
			CIK:     fmt.Sprintf("%d", 1000+i),
			Title:   fmt.Sprintf("Test Company %d", i),
			SICCode: 7372,
		})
	}
	return companies
}

func testRecord(ticker, accession string) models.ExtractedRecord {
	return models.ExtractedRecord{
		Ticker:      ticker,
		CIK:         "0000320193",
		Title:       "Test Company",
		AccessionID: accession,
		FilingDate:  "2015-03-31",
		MDAText:     "Management's discussion of results and liquidity.",
		ProcessedAt: time.Now().UTC(),
	}
}

// ── Status file ──

func TestEnsureStatusCreatesPendingRows(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.EnsureStatus(7372, testCompanies(3))
	if err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for id, e := range entries {
		if e.Status != models.StatusPending {
			t.Errorf("%s: status %q, want pending", id, e.Status)
		}
	}
}

func TestEnsureStatusKeepsExistingRows(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.EnsureStatus(7372, testCompanies(2)); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}
	if err := s.SetStatus(7372, models.StatusEntry{
		Ticker: "TCK0", Status: models.StatusCompleted, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	// A later run adds a third company; the completed row survives.
	entries, err := s.EnsureStatus(7372, testCompanies(3))
	if err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries["TCK0"].Status != models.StatusCompleted {
		t.Errorf("TCK0 status %q, want completed", entries["TCK0"].Status)
	}
	if entries["TCK2"].Status != models.StatusPending {
		t.Errorf("TCK2 status %q, want pending", entries["TCK2"].Status)
	}
}

func TestSetStatusRoundtripWithError(t *testing.T) {
	s := newTestStore(t)

	want := models.StatusEntry{
		Ticker:    "TCK0",
		Status:    models.StatusFailed,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Err:       `download failed: 503 after 3 attempts, url "https://x?a=1,b=2"`,
	}
	if err := s.SetStatus(7372, want); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	entries, err := s.LoadStatus(7372)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	got, ok := entries["TCK0"]
	if !ok {
		t.Fatal("row missing after rewrite")
	}
	if got.Status != want.Status || got.Err != want.Err {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt: got %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
}

func TestLoadStatusMissingFile(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.LoadStatus(9999)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty map, got %d entries", len(entries))
	}
}

// ── Master file / commit ──

func TestCommitAppendsAndFlips(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureStatus(7372, testCompanies(1)); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}

	records := []models.ExtractedRecord{
		testRecord("TCK0", "0000320193-15-000001"),
		testRecord("TCK0", "0000320193-16-000001"),
	}
	if err := s.Commit(7372, "TCK0", records); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.ReadRecords(7372)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].AccessionID != "0000320193-15-000001" {
		t.Errorf("AccessionID: got %q", got[0].AccessionID)
	}

	entries, err := s.LoadStatus(7372)
	if err != nil {
		t.Fatalf("LoadStatus: %v", err)
	}
	if entries["TCK0"].Status != models.StatusCompleted {
		t.Errorf("status %q, want completed", entries["TCK0"].Status)
	}
}

func TestCommitZeroRecordsFlipsOnly(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureStatus(7372, testCompanies(1)); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}

	if err := s.Commit(7372, "TCK0", nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	count, err := s.RecordCount(7372)
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
	entries, _ := s.LoadStatus(7372)
	if entries["TCK0"].Status != models.StatusCompleted {
		t.Errorf("status %q, want completed", entries["TCK0"].Status)
	}
}

func TestCommitConcurrentTickers(t *testing.T) {
	s := newTestStore(t)
	companies := testCompanies(8)
	if _, err := s.EnsureStatus(7372, companies); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}

	var wg sync.WaitGroup
	for _, c := range companies {
		wg.Add(1)
		go func(c models.Company) {
			defer wg.Done()
			recs := []models.ExtractedRecord{testRecord(c.Ticker, c.CIK+"-acc")}
			if err := s.Commit(7372, c.Ticker, recs); err != nil {
				t.Errorf("Commit %s: %v", c.Ticker, err)
			}
		}(c)
	}
	wg.Wait()

	count, err := s.RecordCount(7372)
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if count != len(companies) {
		t.Errorf("count = %d, want %d", count, len(companies))
	}
	entries, _ := s.LoadStatus(7372)
	for _, c := range companies {
		if entries[c.Ticker].Status != models.StatusCompleted {
			t.Errorf("%s status %q, want completed", c.Ticker, entries[c.Ticker].Status)
		}
	}
}

func TestMasterEscapingRoundtrip(t *testing.T) {
	s := newTestStore(t)
	rec := testRecord("TCK0", "acc-1")
	rec.Title = "Tabs\tand\\backslashes Inc."
	rec.MDAText = "Line one.\nLine two.\r\n\tIndented\\end"

	if err := s.Commit(7372, "TCK0", []models.ExtractedRecord{rec}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	got, err := s.ReadRecords(7372)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Title != rec.Title {
		t.Errorf("Title: got %q, want %q", got[0].Title, rec.Title)
	}
	if got[0].MDAText != rec.MDAText {
		t.Errorf("MDAText: got %q, want %q", got[0].MDAText, rec.MDAText)
	}
}

func TestEscapeUnescape(t *testing.T) {
	tests := []string{
		"plain",
		"with\ttab",
		"with\nnewline",
		"backslash\\only",
		"\\n literal backslash-n",
		"mixed\t\\\n\r end",
		"",
	}
	for _, tt := range tests {
		esc := escapeField(tt)
		if got := unescapeField(esc); got != tt {
			t.Errorf("roundtrip %q: escaped %q, unescaped %q", tt, esc, got)
		}
	}
}

// ── Reconcile ──

func TestReconcileDropsUncommittedRows(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureStatus(7372, testCompanies(2)); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}

	// TCK0 commits cleanly.
	if err := s.Commit(7372, "TCK0", []models.ExtractedRecord{testRecord("TCK0", "a1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// TCK1's append lands but the process dies before the flip.
	if err := s.appendRecords(7372, []models.ExtractedRecord{testRecord("TCK1", "a2")}); err != nil {
		t.Fatalf("appendRecords: %v", err)
	}

	dropped, err := s.Reconcile(7372)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	got, _ := s.ReadRecords(7372)
	if len(got) != 1 || got[0].Ticker != "TCK0" {
		t.Errorf("surviving records: %+v", got)
	}

	// A second pass has nothing left to repair.
	dropped, err = s.Reconcile(7372)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if dropped != 0 {
		t.Errorf("second pass dropped = %d, want 0", dropped)
	}
}

func TestReconcileDropsTornLine(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EnsureStatus(7372, testCompanies(1)); err != nil {
		t.Fatalf("EnsureStatus: %v", err)
	}
	if err := s.Commit(7372, "TCK0", []models.ExtractedRecord{testRecord("TCK0", "a1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Simulate a torn append: half a row, no terminating newline.
	f, err := os.OpenFile(s.masterPath(7372), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open master: %v", err)
	}
	if _, err := f.WriteString("TCK1\t999\tTorn Compa"); err != nil {
		t.Fatalf("write torn row: %v", err)
	}
	f.Close()

	dropped, err := s.Reconcile(7372)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	count, _ := s.RecordCount(7372)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

// ── Company cache ──

func TestCompanyCacheRoundtrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.LoadCompanies(7372); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	want := testCompanies(3)
	want[1].Ticker = "" // registrant without a listed ticker
	if err := s.SaveCompanies(7372, want); err != nil {
		t.Fatalf("SaveCompanies: %v", err)
	}

	got, ok, err := s.LoadCompanies(7372)
	if err != nil {
		t.Fatalf("LoadCompanies: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 3 {
		t.Fatalf("got %d companies, want 3", len(got))
	}
	if got[1].Ticker != "" || got[1].CIK != "1001" {
		t.Errorf("company[1] = %+v", got[1])
	}
	if got[0].SICCode != 7372 {
		t.Errorf("SICCode = %d, want 7372", got[0].SICCode)
	}
}

// ── Summary ──

func TestSaveSummary(t *testing.T) {
	s := newTestStore(t)

	sum := models.RunSummary{
		RunID:              "run-1",
		SICCode:            7372,
		State:              models.StateDone,
		CompaniesTotal:     3,
		CompaniesProcessed: 2,
		CompaniesFailed:    1,
		RecordsWritten:     2,
		Failures:           map[string]int{models.FailureParse: 1},
		StartedAt:          time.Now().UTC().Add(-time.Minute),
		FinishedAt:         time.Now().UTC(),
	}
	if err := s.SaveSummary(sum); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	data, err := os.ReadFile(s.summaryPath(7372))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var got models.RunSummary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if got.CompaniesTotal != 3 || got.CompaniesFailed != 1 || got.State != models.StateDone {
		t.Errorf("summary roundtrip: %+v", got)
	}
	if got.Failures[models.FailureParse] != 1 {
		t.Errorf("failures: %+v", got.Failures)
	}
}

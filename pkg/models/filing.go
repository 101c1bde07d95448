package models

import "time"

// --- Companies ---

// Company is one registrant under a SIC code, as returned by the resolver.
type Company struct {
	Ticker  string `json:"ticker,omitempty"`
	CIK     string `json:"cik"`
	Title   string `json:"title"`
	SICCode int    `json:"sic_code"`
}

// Identifier returns the ticker when the registrant has one listed,
// otherwise the CIK. Status files and work directories are keyed by it.
func (c Company) Identifier() string {
	if c.Ticker != "" {
		return c.Ticker
	}
	return c.CIK
}

// --- Filings ---

// FilingReference points at one 10-K submission within the requested
// date range, before its primary document has been downloaded.
type FilingReference struct {
	Ticker      string `json:"ticker,omitempty"`
	CIK         string `json:"cik"`
	AccessionID string `json:"accession_id"`
	Form        string `json:"form"` // "10-K", "10-K/A", "10-K405", ...
	FilingDate  string `json:"filing_date"`
	DocumentURL string `json:"document_url,omitempty"`
}

// RawFilingDocument is a downloaded primary document on local disk.
// The orchestrator deletes it after the ticker's records are committed.
type RawFilingDocument struct {
	Ticker       string    `json:"ticker"`
	AccessionID  string    `json:"accession_id"`
	LocalPath    string    `json:"local_path"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// FilingMetadata is written as metadata.json next to each downloaded
// document so a work directory can be audited without refetching.
type FilingMetadata struct {
	AccessionID  string    `json:"accession_id"`
	Form         string    `json:"form"`
	FilingDate   string    `json:"filing_date"`
	SourceURL    string    `json:"source_url"`
	PrimaryDoc   string    `json:"primary_doc"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// --- Extraction ---

// ExtractedRecord is one row of the per-SIC master output file.
// Immutable once written.
type ExtractedRecord struct {
	Ticker      string    `json:"ticker"`
	CIK         string    `json:"cik"`
	Title       string    `json:"title"`
	AccessionID string    `json:"accession_id"`
	FilingDate  string    `json:"filing_date"`
	MDAText     string    `json:"mda_text"`
	ProcessedAt time.Time `json:"processed_at"`
}

package edgar

import (
	"context"
	"fmt"
	"strings"
)

// probeCIK is the registrant used by connectivity checks. Microsoft
// files an annual report every year and its CIK is stable.
const probeCIK = "789019"

// CheckResult is the outcome of one connectivity probe.
type CheckResult struct {
	Name   string
	Detail string
	Err    error
}

// OK reports whether the probe succeeded.
func (r CheckResult) OK() bool { return r.Err == nil }

// Check probes the EDGAR endpoints the pipeline depends on: the
// company ticker file, the submissions API, and the filing archives.
// The archive probe needs an accession from the submissions response,
// so a failed submissions probe ends the check there.
func (c *Client) Check(ctx context.Context) []CheckResult {
	results := make([]CheckResult, 0, 3)

	var entries map[string]tickerEntry
	if err := c.getJSON(ctx, c.tickersURL, &entries); err != nil {
		results = append(results, CheckResult{Name: "company tickers", Err: err})
	} else {
		results = append(results, CheckResult{
			Name:   "company tickers",
			Detail: fmt.Sprintf("%d registrants listed", len(entries)),
		})
	}

	var resp submissionsResponse
	subsURL := fmt.Sprintf("%s/CIK%s.json", c.submissionsURL, padCIK(probeCIK))
	if err := c.getJSON(ctx, subsURL, &resp); err != nil {
		results = append(results, CheckResult{Name: "submissions api", Err: err})
		return results
	}

	recent := resp.Filings.Recent
	count := 0
	accession := ""
	for i, form := range recent.Form {
		if !tenKForms[form] {
			continue
		}
		count++
		if accession == "" && i < len(recent.AccessionNumber) {
			accession = recent.AccessionNumber[i]
		}
	}
	results = append(results, CheckResult{
		Name:   "submissions api",
		Detail: fmt.Sprintf("%s: %d annual reports on record", resp.Name, count),
	})

	if accession == "" {
		results = append(results, CheckResult{
			Name: "filing archives",
			Err:  fmt.Errorf("no annual report accession to probe for CIK %s", probeCIK),
		})
		return results
	}
	accClean := strings.ReplaceAll(accession, "-", "")
	var idx filingIndex
	idxURL := fmt.Sprintf("%s/%s/%s/index.json", c.archivesURL, probeCIK, accClean)
	if err := c.getJSON(ctx, idxURL, &idx); err != nil {
		results = append(results, CheckResult{Name: "filing archives", Err: err})
		return results
	}
	results = append(results, CheckResult{
		Name:   "filing archives",
		Detail: fmt.Sprintf("accession %s lists %d files", accession, len(idx.Directory.Item)),
	})
	return results
}

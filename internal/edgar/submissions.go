package edgar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
	"github.com/seenimoa/openedgar/pkg/utils"
)

// tenKForms are the annual-report form types the pipeline collects,
// including amendments, transition reports, and pre-2003 variants.
var tenKForms = map[string]bool{
	"10-K":      true,
	"10-K/A":    true,
	"10-K405":   true,
	"10-K405/A": true,
	"10-KT":     true,
	"10-KT/A":   true,
}

// submissionsResponse is the shape of data.sec.gov/submissions. The
// recent filings arrive as parallel arrays indexed together.
type submissionsResponse struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent recentFilings `json:"recent"`
	} `json:"filings"`
}

type recentFilings struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

// ListFilings returns the company's 10-K filings with a filing date
// inside [start, end], both ends inclusive. The submissions response
// is cached so amendments and re-runs within the TTL reuse it.
func (c *Client) ListFilings(ctx context.Context, company models.Company, start, end time.Time) ([]models.FilingReference, error) {
	cacheKey := "edgar:submissions:" + company.CIK
	var resp submissionsResponse
	if cached, ok := c.cache.Get(cacheKey); ok {
		resp = cached.(submissionsResponse)
	} else {
		u := fmt.Sprintf("%s/CIK%s.json", c.submissionsURL, padCIK(company.CIK))
		if err := c.getJSON(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("submissions for %s: %w", company.Identifier(), err)
		}
		c.cache.Set(cacheKey, resp)
	}

	recent := resp.Filings.Recent
	n := len(recent.Form)
	if len(recent.AccessionNumber) < n {
		n = len(recent.AccessionNumber)
	}
	if len(recent.FilingDate) < n {
		n = len(recent.FilingDate)
	}

	var refs []models.FilingReference
	for i := 0; i < n; i++ {
		if !tenKForms[recent.Form[i]] {
			continue
		}
		if _, err := utils.ParseDate(recent.FilingDate[i]); err != nil {
			c.log.Debug("skipping filing with bad date",
				"cik", company.CIK, "date", recent.FilingDate[i])
			continue
		}
		if !utils.WithinRange(recent.FilingDate[i], start, end) {
			continue
		}

		accNo := recent.AccessionNumber[i]
		docURL := ""
		if i < len(recent.PrimaryDocument) && recent.PrimaryDocument[i] != "" {
			accNoClean := strings.ReplaceAll(accNo, "-", "")
			docURL = fmt.Sprintf("%s/%s/%s/%s",
				c.archivesURL, company.CIK, accNoClean, recent.PrimaryDocument[i])
		}
		refs = append(refs, models.FilingReference{
			Ticker:      company.Ticker,
			CIK:         company.CIK,
			AccessionID: accNo,
			Form:        recent.Form[i],
			FilingDate:  recent.FilingDate[i],
			DocumentURL: docURL,
		})
	}
	return refs, nil
}

package edgar

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

// browsePageSize is the page size for the browse-edgar company search.
const browsePageSize = 100

// CompanyCache persists resolved company lists between runs. The file
// store satisfies it; passing nil skips persistence.
type CompanyCache interface {
	LoadCompanies(sic int) ([]models.Company, bool, error)
	SaveCompanies(sic int, companies []models.Company) error
}

// Resolve returns the registrants for a SIC code, consulting the
// persistent cache first. A SIC code with no registrants resolves to a
// LookupError.
func (c *Client) Resolve(ctx context.Context, sic int, cache CompanyCache) ([]models.Company, error) {
	if cache != nil {
		companies, ok, err := cache.LoadCompanies(sic)
		if err != nil {
			return nil, err
		}
		if ok {
			c.log.Debug("company cache hit", "sic", sic, "companies", len(companies))
			return companies, nil
		}
	}

	companies, err := c.CompaniesBySIC(ctx, sic)
	if err != nil {
		return nil, err
	}
	if len(companies) == 0 {
		return nil, &LookupError{SICCode: sic, Reason: "no registrants"}
	}

	if cache != nil {
		if err := cache.SaveCompanies(sic, companies); err != nil {
			return nil, err
		}
	}
	return companies, nil
}

// CompaniesBySIC pages through the browse-edgar company search for one
// SIC code and joins the results against the official ticker map.
// Registrants without a listed ticker keep an empty ticker and are
// identified by CIK downstream.
func (c *Client) CompaniesBySIC(ctx context.Context, sic int) ([]models.Company, error) {
	tickers, err := c.tickerMap(ctx)
	if err != nil {
		// The join is best-effort; without it every company falls back
		// to its CIK as identifier.
		c.log.Warn("ticker map unavailable", "error", err)
		tickers = map[string]string{}
	}

	seen := make(map[string]bool)
	var companies []models.Company
	for start := 0; ; start += browsePageSize {
		u := fmt.Sprintf("%s?action=getcompany&SIC=%04d&type=10-K&dateb=&owner=include&count=%d&start=%d&output=atom",
			c.browseURL, sic, browsePageSize, start)
		data, err := c.get(ctx, u, "application/atom+xml")
		if err != nil {
			return nil, fmt.Errorf("browse companies for SIC %d: %w", sic, err)
		}
		feed, err := c.parser.ParseString(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse company feed for SIC %d: %w", sic, err)
		}

		added := 0
		for _, item := range feed.Items {
			cik := cikFromLink(item.Link)
			if cik == "" || seen[cik] {
				continue
			}
			seen[cik] = true
			companies = append(companies, models.Company{
				Ticker:  tickers[cik],
				CIK:     cik,
				Title:   cleanCompanyTitle(item.Title),
				SICCode: sic,
			})
			added++
		}
		if added == 0 || len(feed.Items) < browsePageSize {
			break
		}
	}

	sort.Slice(companies, func(i, j int) bool {
		a, _ := strconv.ParseInt(companies[i].CIK, 10, 64)
		b, _ := strconv.ParseInt(companies[j].CIK, 10, 64)
		return a < b
	})
	return companies, nil
}

// tickerEntry is one record of company_tickers.json. cik_str arrives
// as a bare JSON number despite the name.
type tickerEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// tickerMap returns the CIK to ticker mapping from the official SEC
// file, cached in memory. The file changes rarely.
func (c *Client) tickerMap(ctx context.Context) (map[string]string, error) {
	const cacheKey = "edgar:company_tickers"
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.(map[string]string), nil
	}

	var entries map[string]tickerEntry
	if err := c.getJSON(ctx, c.tickersURL, &entries); err != nil {
		return nil, fmt.Errorf("fetch company tickers: %w", err)
	}

	m := make(map[string]string, len(entries))
	for _, e := range entries {
		cik := strconv.FormatInt(e.CIK, 10)
		// A CIK can list several share classes; keep the
		// lexicographically first ticker so reruns are stable.
		if cur, ok := m[cik]; !ok || e.Ticker < cur {
			m[cik] = e.Ticker
		}
	}
	c.cache.SetWithTTL(cacheKey, m, 24*time.Hour)
	return m, nil
}

var cikLinkPattern = regexp.MustCompile(`(?i)CIK=(\d+)`)

// cikFromLink pulls the CIK out of a browse-edgar entry link and
// strips the zero padding.
func cikFromLink(link string) string {
	m := cikLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return unpadCIK(m[1])
}

var titleCIKSuffix = regexp.MustCompile(`\s*\((?:\d{7,10})\)\s*(?:\(Filer\))?\s*$`)

// cleanCompanyTitle strips the trailing "(0000320193)" marker the
// browse-edgar feed appends to entry titles.
func cleanCompanyTitle(title string) string {
	return strings.TrimSpace(titleCIKSuffix.ReplaceAllString(title, ""))
}

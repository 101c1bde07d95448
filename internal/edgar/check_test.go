package edgar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCheckAllEndpointsHealthy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"0":{"cik_str":789019,"ticker":"MSFT","title":"MICROSOFT CORP"},"1":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."}}`))
	})
	mux.HandleFunc("/submissions/CIK0000789019.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
  "cik": "789019",
  "name": "MICROSOFT CORP",
  "filings": {
    "recent": {
      "accessionNumber": ["0000789019-24-000001", "0000789019-23-000002"],
      "filingDate": ["2024-07-30", "2023-07-27"],
      "form": ["10-K", "10-K"],
      "primaryDocument": ["msft-10k.htm", "msft-10k.htm"]
    }
  }
}`))
	})
	mux.HandleFunc("/Archives/edgar/data/789019/000078901924000001/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"directory":{"item":[{"name":"msft-10k.htm","size":"4200000"},{"name":"ex-21.htm","size":"8000"}]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv)
	results := c.Check(context.Background())
	if len(results) != 3 {
		t.Fatalf("Check() returned %d results, want 3: %+v", len(results), results)
	}
	for _, r := range results {
		if !r.OK() {
			t.Errorf("probe %q failed: %v", r.Name, r.Err)
		}
	}
	if !strings.Contains(results[0].Detail, "2 registrants") {
		t.Errorf("tickers detail = %q", results[0].Detail)
	}
	if !strings.Contains(results[1].Detail, "MICROSOFT CORP") || !strings.Contains(results[1].Detail, "2 annual reports") {
		t.Errorf("submissions detail = %q", results[1].Detail)
	}
	if !strings.Contains(results[2].Detail, "2 files") {
		t.Errorf("archives detail = %q", results[2].Detail)
	}
}

func TestCheckReportsUnreachableEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	results := c.Check(context.Background())

	// Without a submissions response the archive probe has no
	// accession to hit.
	if len(results) != 2 {
		t.Fatalf("Check() returned %d results, want 2: %+v", len(results), results)
	}
	for _, r := range results {
		if r.OK() {
			t.Errorf("probe %q succeeded against a dead server", r.Name)
		}
	}
}

package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

// minPrimarySize filters index entries: anything at or below 2 KB is
// a graphic, a stylesheet, or an exhibit stub, never the filing body.
const minPrimarySize = 2000

const documentAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// filingIndex is the accession directory's index.json.
type filingIndex struct {
	Directory struct {
		Item []indexItem `json:"item"`
	} `json:"directory"`
}

// indexItem is one file in the accession directory. EDGAR serves the
// size as a quoted string, empty for subdirectories.
type indexItem struct {
	Name string `json:"name"`
	Size string `json:"size"`
}

func (it indexItem) sizeBytes() int64 {
	n, err := strconv.ParseInt(it.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Download fetches the filing's primary document into destDir and
// writes a metadata.json beside it. When the accession index yields no
// usable document, the full submission text file is fetched instead
// and the 10-K document block carved out of it.
func (c *Client) Download(ctx context.Context, ref models.FilingReference, destDir string) (models.RawFilingDocument, error) {
	accClean := strings.ReplaceAll(ref.AccessionID, "-", "")
	prefix := fmt.Sprintf("%s/%s/%s", c.archivesURL, unpadCIK(ref.CIK), accClean)

	primary := ""
	var idx filingIndex
	err := c.getJSON(ctx, prefix+"/index.json", &idx)
	switch {
	case err == nil:
		primary = selectPrimaryDocument(idx.Directory.Item)
	case errors.Is(err, ErrNotFound):
		// Pre-2003 accessions often have no index.json. The full
		// submission file still exists.
	default:
		return models.RawFilingDocument{}, fmt.Errorf("index for %s: %w", ref.AccessionID, err)
	}

	var (
		content []byte
		name    string
		srcURL  string
	)
	if primary != "" {
		srcURL = prefix + "/" + primary
		content, err = c.get(ctx, srcURL, documentAccept)
		if err != nil {
			return models.RawFilingDocument{}, fmt.Errorf("download %s: %w", ref.AccessionID, err)
		}
		name = filepath.Base(primary)
	} else {
		srcURL = prefix + "/" + ref.AccessionID + ".txt"
		full, err := c.get(ctx, srcURL, documentAccept)
		if err != nil {
			return models.RawFilingDocument{}, fmt.Errorf("download full submission %s: %w", ref.AccessionID, err)
		}
		carved, ok := carveSubmission(full)
		if !ok {
			carved = full
		}
		content = carved
		if looksLikeHTML(carved) {
			name = ref.AccessionID + ".html"
		} else {
			name = ref.AccessionID + ".txt"
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return models.RawFilingDocument{}, fmt.Errorf("create filing dir: %w", err)
	}
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return models.RawFilingDocument{}, fmt.Errorf("write document: %w", err)
	}

	now := time.Now()
	meta := models.FilingMetadata{
		AccessionID:  ref.AccessionID,
		Form:         ref.Form,
		FilingDate:   ref.FilingDate,
		SourceURL:    srcURL,
		PrimaryDoc:   name,
		SizeBytes:    int64(len(content)),
		DownloadedAt: now,
	}
	if err := writeMetadata(filepath.Join(destDir, "metadata.json"), meta); err != nil {
		return models.RawFilingDocument{}, err
	}

	id := ref.Ticker
	if id == "" {
		id = ref.CIK
	}
	c.log.Debug("downloaded filing",
		"ticker", id, "accession", ref.AccessionID, "doc", name, "bytes", len(content))
	return models.RawFilingDocument{
		Ticker:       id,
		AccessionID:  ref.AccessionID,
		LocalPath:    path,
		DownloadedAt: now,
	}, nil
}

// primaryNameKeywords, in preference order. Matched against lowercased
// file names from the accession index.
var primaryNameKeywords = []string{"10-k", "10k", "form10-k", "form10k"}

// selectPrimaryDocument picks the filing body out of the accession's
// file list: an HTML file named like the form, then a text file named
// like the form, then the largest HTML, then the largest text file.
// Returns "" when nothing usable is listed.
func selectPrimaryDocument(items []indexItem) string {
	var candidates []indexItem
	for _, it := range items {
		if it.sizeBytes() > minPrimarySize {
			candidates = append(candidates, it)
		}
	}

	for _, kw := range primaryNameKeywords {
		for _, it := range candidates {
			nm := strings.ToLower(it.Name)
			if strings.Contains(nm, kw) && isHTMLName(nm) {
				return it.Name
			}
		}
	}
	for _, kw := range primaryNameKeywords {
		for _, it := range candidates {
			nm := strings.ToLower(it.Name)
			if strings.Contains(nm, kw) && strings.HasSuffix(nm, ".txt") {
				return it.Name
			}
		}
	}

	var best indexItem
	for _, it := range candidates {
		if isHTMLName(strings.ToLower(it.Name)) && it.sizeBytes() > best.sizeBytes() {
			best = it
		}
	}
	if best.Name != "" {
		return best.Name
	}
	for _, it := range candidates {
		if strings.HasSuffix(strings.ToLower(it.Name), ".txt") && it.sizeBytes() > best.sizeBytes() {
			best = it
		}
	}
	return best.Name
}

func isHTMLName(name string) bool {
	return strings.HasSuffix(name, ".htm") || strings.HasSuffix(name, ".html")
}

var documentBlockPattern = regexp.MustCompile(`(?is)<DOCUMENT>(.*?)</DOCUMENT>`)

// carveSubmission extracts the 10-K document from a full submission
// text file. SGML-wrapped submissions hold each exhibit in a
// <DOCUMENT> block; the first block carrying annual-report markers
// wins, trimmed to its <HTML> span when one exists.
func carveSubmission(content []byte) ([]byte, bool) {
	for _, m := range documentBlockPattern.FindAllSubmatch(content, -1) {
		block := m[1]
		upper := strings.ToUpper(string(block[:min(len(block), 4096)]))
		if !strings.Contains(upper, "10-K") && !strings.Contains(upper, "ANNUAL REPORT") {
			continue
		}
		if span, ok := htmlSpan(block); ok {
			return span, true
		}
		return block, true
	}
	if span, ok := htmlSpan(content); ok {
		return span, true
	}
	return nil, false
}

// htmlSpan returns the <HTML>...</HTML> span of b when both tags are
// present, closing tag included.
func htmlSpan(b []byte) ([]byte, bool) {
	lower := strings.ToLower(string(b))
	start := strings.Index(lower, "<html")
	if start < 0 {
		return nil, false
	}
	end := strings.Index(lower[start:], "</html>")
	if end < 0 {
		return nil, false
	}
	return b[start : start+end+len("</html>")], true
}

func looksLikeHTML(b []byte) bool {
	lower := strings.ToLower(string(b[:min(len(b), 2048)]))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

func writeMetadata(path string, meta models.FilingMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode filing metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write filing metadata: %w", err)
	}
	return nil
}

// Package extract pulls the Management's Discussion and Analysis
// section out of 10-K documents.
//
// Filings vary wildly: inline-XBRL HTML, nineties SGML text, OCR-flat
// layouts. The section is located on the flattened text with the
// Item 7 / Item 7A / Item 8 heading families rather than on markup
// structure, which survives all of them.
package extract

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseError reports a document-level extraction failure. One bad
// document never aborts its siblings; the pipeline buckets these per
// company.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.Path, e.Reason)
}

// minMDALength is the floor below which a located span is treated as
// a heading-only or cross-reference hit, not the section.
const minMDALength = 100

// Heading families. The \b after the item number keeps "Item 7" from
// matching inside "Item 7A".
var (
	startPattern = regexp.MustCompile(`(?i)\bitem\s*(?:7|seven)\b`)
	endPatternA  = regexp.MustCompile(`(?i)\bitem\s*(?:7|seven)\s*a\b`)
	endPattern8  = regexp.MustCompile(`(?i)\bitem\s*(?:8|eight)\b`)
)

// ExtractFile reads one downloaded document and extracts its MDA text.
func ExtractFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return Extract(path, raw)
}

// Extract locates the MDA section in a document and returns it as
// whitespace-normalized plain text. Deterministic: the same bytes
// always produce the same text. A document without a usable section
// returns a ParseError.
func Extract(path string, raw []byte) (string, error) {
	content := cleanEntities(string(raw))

	text := content
	if isMarkup(content) {
		flat, err := flattenHTML(content)
		if err != nil {
			return "", &ParseError{Path: path, Reason: "parse html: " + err.Error()}
		}
		text = flat
	}

	span, ok := locateMDA(text)
	if !ok {
		return "", &ParseError{Path: path, Reason: "mda section not found"}
	}
	mda := normalizeSpacing(span)
	if len(mda) < minMDALength {
		return "", &ParseError{Path: path, Reason: fmt.Sprintf("mda section only %d chars", len(mda))}
	}
	return mda, nil
}

// locateMDA returns the span from the MDA heading to the next section
// heading. The first Item 7 match in a filing is nearly always the
// table of contents entry, so with two or more matches the second one
// starts the section; a single match is used as is. The end is the
// first Item 7A heading after the start, else the first Item 8, else
// the end of the document.
func locateMDA(text string) (string, bool) {
	starts := startPattern.FindAllStringIndex(text, -1)
	if len(starts) == 0 {
		return "", false
	}
	start := starts[0]
	if len(starts) > 1 {
		start = starts[1]
	}

	rest := text[start[1]:]
	end := len(text)
	if m := endPatternA.FindStringIndex(rest); m != nil {
		end = start[1] + m[0]
	} else if m := endPattern8.FindStringIndex(rest); m != nil {
		end = start[1] + m[0]
	}
	return text[start[0]:end], true
}

var tagHint = regexp.MustCompile(`(?i)<(?:html|body|div|p|font|table|span)[\s>]`)

// isMarkup reports whether the document should go through the HTML
// parser. Old full-submission carves are sometimes tag-free text.
func isMarkup(content string) bool {
	return tagHint.MatchString(content)
}

// flattenHTML renders a document to plain text with newlines at block
// boundaries, dropping script, style, and hidden nodes first.
func flattenHTML(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("[hidden], [style*='display:none'], [style*='display: none']").Remove()

	doc.Find("br").AfterHtml("\n")
	doc.Find("td, th").AfterHtml(" ")
	doc.Find("p, div, tr, li, table, h1, h2, h3, h4, h5, h6").AfterHtml("\n")
	return doc.Text(), nil
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&#160;", " ",
	"&#xa0;", " ",
	" ", " ",
)

// cleanEntities strips control characters and turns the no-break-space
// entity family into plain spaces before parsing, so headings split by
// them still match.
func cleanEntities(s string) string {
	s = controlChars.ReplaceAllString(s, "")
	return entityReplacer.Replace(s)
}

var spaceRun = regexp.MustCompile(`[ \t\r\x{00a0}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}]+`)

// normalizeSpacing collapses space runs, reflows single line breaks
// into their paragraph, and caps paragraph separation at one blank
// line.
func normalizeSpacing(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")

	var paras []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			paras = append(paras, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return strings.Join(paras, "\n\n")
}

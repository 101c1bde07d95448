package pipeline

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Collect lists the filing documents already sitting in the work
// directory for one registrant, so a resumed run can re-extract them
// without touching EDGAR again. Layout is ticker/accession/document.
// A missing directory just means nothing was downloaded yet.
func Collect(workDir, ticker string) []string {
	var paths []string
	root := filepath.Join(workDir, ticker)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if name == "metadata.json" {
			return nil
		}
		switch filepath.Ext(name) {
		case ".htm", ".html", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths
}

// Package web embeds the run-monitor status page for serving from the
// Go binary.
//
// Usage in the API server:
//
//	import "github.com/seenimoa/openedgar/web"
//	fs := web.DistFS() // returns io/fs.FS rooted at static/
package web

import (
	"embed"
	"io/fs"
	"log"
)

//go:embed all:static
var dist embed.FS

// DistFS returns a filesystem rooted at the embedded static/ directory,
// ready to use with http.FileServerFS.
func DistFS() fs.FS {
	sub, err := fs.Sub(dist, "static")
	if err != nil {
		log.Fatalf("web.DistFS: %v", err)
	}
	return sub
}

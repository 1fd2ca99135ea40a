// Package web provides the embedded operator console pages.
//
// The dist/ directory is embedded at build time. A live directory passed to
// Assets is layered over it: files found there win, anything missing falls
// back to the embedded copy. This lets operators restyle the console without
// rebuilding the binary. Static serves the same directory under /static/.
package web

import (
	"embed"
	"errors"
	"io/fs"
	"os"
)

// Page names within the asset filesystem.
const (
	IndexPage = "index.html"
	LoginPage = "login.html"
)

// assets holds the console pages from dist/.
//
//go:embed dist/*
var assets embed.FS

// Embedded returns the embedded pages with the dist/ prefix stripped.
func Embedded() fs.FS {
	subFS, err := fs.Sub(assets, "dist")
	if err != nil {
		// This should never happen with properly embedded assets
		panic("failed to access embedded web assets: " + err.Error())
	}
	return subFS
}

// Static returns dir as a filesystem for the /static/ route, or nil when dir
// is empty or not a directory. The embedded pages are never included.
func Static(dir string) fs.FS {
	if dir == "" {
		return nil
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return nil
	}
	return os.DirFS(dir)
}

// Assets returns the console filesystem. When dir names an existing
// directory its files take precedence over the embedded ones.
func Assets(dir string) fs.FS {
	if dir == "" {
		return Embedded()
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return Embedded()
	}
	return overlayFS{live: os.DirFS(dir), base: Embedded()}
}

// overlayFS serves from live first and falls back to base for files that do
// not exist there.
type overlayFS struct {
	live fs.FS
	base fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.live.Open(name)
	if err == nil {
		return f, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return o.base.Open(name)
	}
	return nil, err
}

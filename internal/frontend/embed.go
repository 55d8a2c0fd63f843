// Package frontend embeds the browser viewer served at /.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Handler serves the embedded viewer.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// DirHandler serves the viewer from dir on disk, for working on it without
// rebuilding.
func DirHandler(dir string) http.Handler {
	return http.FileServer(http.Dir(dir))
}

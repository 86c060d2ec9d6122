// Package ui provides the embedded browser form for ytclip.
//
// The page posts a clip request to /api/download, follows progress from
// /api/progress/{videoID} and saves the returned clip.
package ui

import (
	_ "embed"
	"html/template"
	"io"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

// Page holds the server settings the form adapts to.
type Page struct {
	RequireKey     bool // show the API key field
	MaxClipSeconds int  // 0 hides the limit hint
}

// Render writes the clip request form.
func Render(w io.Writer, p Page) error {
	return indexTemplate.Execute(w, p)
}

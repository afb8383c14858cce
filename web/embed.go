// Package web bundles the HTML views and browser assets into the binary.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages.
//
//go:embed templates/**/*.html
var Templates embed.FS

//go:embed static
var static embed.FS

// Static returns the assets rooted at web/static, so css/app.css is served
// as /static/css/app.css.
func Static() (fs.FS, error) {
	return fs.Sub(static, "static")
}

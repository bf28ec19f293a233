// Package export produces downloadable artifacts from translated
// chapters: print-ready PDFs and whole-project JSON bundles.
package export

import "errors"

// Format represents the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates the headless browser needed for
	// PDF export is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrNothingToExport indicates the chapter has no translation yet.
	ErrNothingToExport = errors.New("nothing to export")
)

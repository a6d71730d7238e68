package models

import "fmt"

// Export format constants
const (
	ExportFormatJSON     = "json"
	ExportFormatCSV      = "csv"
	ExportFormatYAML     = "yaml"
	ExportFormatMarkdown = "markdown"
	ExportFormatHTML     = "html"
	ExportFormatPDF      = "pdf"
)

// ValidExportFormats lists every format the exporter understands
var ValidExportFormats = []string{
	ExportFormatJSON,
	ExportFormatCSV,
	ExportFormatYAML,
	ExportFormatMarkdown,
	ExportFormatHTML,
	ExportFormatPDF,
}

// ValidateExportFormats rejects unknown format names
func ValidateExportFormats(formats []string) error {
	for _, f := range formats {
		valid := false
		for _, v := range ValidExportFormats {
			if f == v {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("unknown export format: %s", f)
		}
	}
	return nil
}

// ExportResult describes one file written by the exporter
type ExportResult struct {
	Path        string `json:"path"`
	Format      string `json:"format"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	RecordCount int    `json:"record_count"`
}

// ExportOptions carries per-run exporter settings
type ExportOptions struct {
	OutputDir string `json:"output_dir"`
	// FontPath points at a TTF registered for PDF output; without it the PDF
	// falls back to core fonts, which cannot render CJK titles
	FontPath   string `json:"font_path,omitempty"`
	PrettyJSON bool   `json:"pretty_json,omitempty"`
}

package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ternarybob/colligo/internal/models"
)

const pdfFontFamily = "catalog"

// renderPDF builds the catalog PDF. With a TTF at fontPath the document is
// rendered in that UTF-8 font, which CJK titles require; without one it
// falls back to a core font and non-latin text will not render correctly.
func (s *Service) renderPDF(records []models.DramaRecord, fontPath string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)

	family := "Helvetica"
	if fontPath != "" {
		pdf.AddUTF8Font(pdfFontFamily, "", fontPath)
		pdf.AddUTF8Font(pdfFontFamily, "B", fontPath)
		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("failed to load font %s: %w", fontPath, err)
		}
		family = pdfFontFamily
	}

	pdf.AddPage()
	pdf.SetFont(family, "B", 18)
	pdf.CellFormat(0, 10, "Short Drama Catalog", "", 1, "C", false, 0, "")
	pdf.SetFont(family, "", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s, %d records", s.now().UTC().Format("2006-01-02 15:04 MST"), len(records)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	for i := range records {
		r := &records[i]

		title := r.Title
		if r.Year > 0 {
			title = fmt.Sprintf("%s (%d)", r.Title, r.Year)
		}
		pdf.SetFont(family, "B", 12)
		pdf.MultiCell(0, 7, title, "", "L", false)

		pdf.SetFont(family, "", 9)
		for _, line := range recordLines(r) {
			pdf.MultiCell(0, 5, line, "", "L", false)
		}
		if r.Synopsis != "" {
			pdf.Ln(1)
			pdf.MultiCell(0, 5, r.Synopsis, "", "L", false)
		}
		pdf.Ln(4)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF generation failed: %w", err)
	}
	return buf.Bytes(), nil
}

// recordLines flattens a record's populated fields into label lines
func recordLines(r *models.DramaRecord) []string {
	var lines []string
	if r.Rating > 0 {
		lines = append(lines, fmt.Sprintf("Rating: %.1f", r.Rating))
	}
	if r.EpisodeCount > 0 {
		lines = append(lines, fmt.Sprintf("Episodes: %d", r.EpisodeCount))
	}
	if len(r.Genres) > 0 {
		lines = append(lines, "Genres: "+strings.Join(r.Genres, ", "))
	}
	if len(r.Directors) > 0 {
		lines = append(lines, "Directors: "+strings.Join(r.Directors, ", "))
	}
	if len(r.Cast) > 0 {
		lines = append(lines, "Cast: "+strings.Join(r.Cast, ", "))
	}
	lines = append(lines, "Sources: "+strings.Join(r.Sources, ", "))
	lines = append(lines, fmt.Sprintf("Completeness: %.2f", r.CompletenessScore))
	return lines
}

// verifyPDF validates the written file with pdfcpu so a corrupt document
// fails the batch instead of surfacing when someone opens it
func verifyPDF(path string) error {
	return api.ValidateFile(path, model.NewDefaultConfiguration())
}

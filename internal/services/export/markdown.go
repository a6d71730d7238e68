package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ternarybob/colligo/internal/models"
)

// renderMarkdown builds the catalog document. The HTML export renders this
// same markdown through goldmark, so the two formats stay in sync.
func (s *Service) renderMarkdown(records []models.DramaRecord) []byte {
	var b strings.Builder

	b.WriteString("# Short Drama Catalog\n\n")
	fmt.Fprintf(&b, "Generated %s. %d records.\n\n", s.now().UTC().Format("2006-01-02 15:04 MST"), len(records))

	for i := range records {
		r := &records[i]

		if r.Year > 0 {
			fmt.Fprintf(&b, "## %s (%d)\n\n", r.Title, r.Year)
		} else {
			fmt.Fprintf(&b, "## %s\n\n", r.Title)
		}

		if r.OriginalTitle != "" && r.OriginalTitle != r.Title {
			fmt.Fprintf(&b, "*%s*\n\n", r.OriginalTitle)
		}

		if r.Rating > 0 {
			fmt.Fprintf(&b, "- **Rating**: %.1f\n", r.Rating)
		}
		if r.EpisodeCount > 0 {
			fmt.Fprintf(&b, "- **Episodes**: %d\n", r.EpisodeCount)
		}
		if len(r.Genres) > 0 {
			fmt.Fprintf(&b, "- **Genres**: %s\n", strings.Join(r.Genres, ", "))
		}
		if len(r.Directors) > 0 {
			fmt.Fprintf(&b, "- **Directors**: %s\n", strings.Join(r.Directors, ", "))
		}
		if len(r.Cast) > 0 {
			fmt.Fprintf(&b, "- **Cast**: %s\n", strings.Join(r.Cast, ", "))
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, "- **Tags**: %s\n", strings.Join(r.Tags, ", "))
		}
		fmt.Fprintf(&b, "- **Sources**: %s\n", strings.Join(r.Sources, ", "))
		fmt.Fprintf(&b, "- **Completeness**: %.2f\n", r.CompletenessScore)
		if r.QualityScore > 0 {
			fmt.Fprintf(&b, "- **Quality**: %.2f\n", r.QualityScore)
		}
		b.WriteString("\n")

		if r.Synopsis != "" {
			fmt.Fprintf(&b, "%s\n\n", r.Synopsis)
		}
	}

	return []byte(b.String())
}

// renderHTML converts the markdown catalog to a standalone HTML page
func (s *Service) renderHTML(records []models.DramaRecord) ([]byte, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)

	var body bytes.Buffer
	if err := md.Convert(s.renderMarkdown(records), &body); err != nil {
		return nil, fmt.Errorf("markdown conversion failed: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	page.WriteString("<meta charset=\"utf-8\">\n")
	page.WriteString("<title>Short Drama Catalog</title>\n")
	page.WriteString("<style>body{font-family:sans-serif;max-width:60em;margin:2em auto;padding:0 1em;line-height:1.5}h2{border-bottom:1px solid #ddd;padding-bottom:.2em}</style>\n")
	page.WriteString("</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")

	return page.Bytes(), nil
}

// Package export writes canonical drama records to disk in the requested
// formats and accompanies every batch with a checksum manifest.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ErrExportFailed wraps any failure inside an export batch. A failed format
// fails the whole batch and the job's exporting stage with it.
var ErrExportFailed = errors.New("export failed")

// Service implements ExportService
type Service struct {
	logger arbor.ILogger

	// now is replaceable in tests so filenames are predictable
	now func() time.Time
}

var _ interfaces.ExportService = (*Service)(nil)

// NewService creates the export service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
		now:    time.Now,
	}
}

// envelope is the top-level document shape shared by JSON and YAML exports
type envelope struct {
	GeneratedAt time.Time            `json:"generated_at" yaml:"generated_at"`
	RecordCount int                  `json:"record_count" yaml:"record_count"`
	Records     []models.DramaRecord `json:"records" yaml:"records"`
}

// manifest describes one export batch; written as manifest_<ts>.json next
// to the exported files
type manifest struct {
	GeneratedAt time.Time             `json:"generated_at"`
	RecordCount int                   `json:"record_count"`
	Files       []models.ExportResult `json:"files"`
}

// Export writes records in each requested format plus the batch manifest.
// Returns one descriptor per data file written; a failure in any format
// aborts the batch.
func (s *Service) Export(ctx context.Context, records []models.DramaRecord, formats []string, opts models.ExportOptions) ([]models.ExportResult, error) {
	if len(formats) == 0 {
		formats = []string{models.ExportFormatJSON}
	}
	if err := models.ValidateExportFormats(formats); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrExportFailed)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "./exports"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory %s: %v: %w", outputDir, err, ErrExportFailed)
	}

	stamp := s.now().Format("20060102_150405")
	results := make([]models.ExportResult, 0, len(formats))

	for _, format := range formats {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		path := filepath.Join(outputDir, fmt.Sprintf("dramas_%s.%s", stamp, fileExtension(format)))
		data, err := s.render(format, records, opts)
		if err != nil {
			return results, fmt.Errorf("%s render failed: %v: %w", format, err, ErrExportFailed)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return results, fmt.Errorf("failed to write %s: %v: %w", path, err, ErrExportFailed)
		}
		if format == models.ExportFormatPDF {
			if err := verifyPDF(path); err != nil {
				return results, fmt.Errorf("PDF verification failed for %s: %v: %w", path, err, ErrExportFailed)
			}
		}

		sum := sha256.Sum256(data)
		result := models.ExportResult{
			Path:        path,
			Format:      format,
			Size:        int64(len(data)),
			SHA256:      hex.EncodeToString(sum[:]),
			RecordCount: len(records),
		}
		results = append(results, result)

		s.logger.Info().
			Str("format", format).
			Str("path", path).
			Int64("size", result.Size).
			Msg("Export file written")
	}

	if err := s.writeManifest(outputDir, stamp, len(records), results); err != nil {
		return results, err
	}
	return results, nil
}

// render produces the file body for one format
func (s *Service) render(format string, records []models.DramaRecord, opts models.ExportOptions) ([]byte, error) {
	switch format {
	case models.ExportFormatJSON:
		return s.renderJSON(records, opts.PrettyJSON)
	case models.ExportFormatCSV:
		return s.renderCSV(records)
	case models.ExportFormatYAML:
		return s.renderYAML(records)
	case models.ExportFormatMarkdown:
		return s.renderMarkdown(records), nil
	case models.ExportFormatHTML:
		return s.renderHTML(records)
	case models.ExportFormatPDF:
		return s.renderPDF(records, opts.FontPath)
	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}

func (s *Service) renderJSON(records []models.DramaRecord, pretty bool) ([]byte, error) {
	doc := envelope{
		GeneratedAt: s.now().UTC(),
		RecordCount: len(records),
		Records:     records,
	}
	if pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

func (s *Service) renderYAML(records []models.DramaRecord) ([]byte, error) {
	doc := envelope{
		GeneratedAt: s.now().UTC(),
		RecordCount: len(records),
		Records:     records,
	}
	return yaml.Marshal(doc)
}

// csvHeader is the fixed column order of CSV exports
var csvHeader = []string{
	"key", "title", "original_title", "year", "rating", "episode_count",
	"genres", "directors", "cast", "synopsis", "tags",
	"cover_url", "detail_url", "sources", "completeness_score", "quality_score",
}

func (s *Service) renderCSV(records []models.DramaRecord) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i := range records {
		r := &records[i]
		row := []string{
			r.Key,
			r.Title,
			r.OriginalTitle,
			intField(r.Year),
			floatField(r.Rating),
			intField(r.EpisodeCount),
			strings.Join(r.Genres, "; "),
			strings.Join(r.Directors, "; "),
			strings.Join(r.Cast, "; "),
			r.Synopsis,
			strings.Join(r.Tags, "; "),
			r.CoverURL,
			r.DetailURL,
			strings.Join(r.Sources, "; "),
			floatField(r.CompletenessScore),
			floatField(r.QualityScore),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// writeManifest records the batch's files with their checksums
func (s *Service) writeManifest(outputDir, stamp string, recordCount int, results []models.ExportResult) error {
	m := manifest{
		GeneratedAt: s.now().UTC(),
		RecordCount: recordCount,
		Files:       results,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %v: %w", err, ErrExportFailed)
	}

	path := filepath.Join(outputDir, fmt.Sprintf("manifest_%s.json", stamp))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %v: %w", path, err, ErrExportFailed)
	}

	s.logger.Debug().Str("path", path).Int("files", len(results)).Msg("Export manifest written")
	return nil
}

func fileExtension(format string) string {
	if format == models.ExportFormatMarkdown {
		return "md"
	}
	return format
}

func intField(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func floatField(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/seo-auditor/internal/audit"
	"github.com/JakeFAU/seo-auditor/internal/heuristics"
)

// Report object names.
const (
	ResultsObject = "audit_results.csv"
	SummaryObject = "audit_summary.json"
)

// WriteCSV writes one line per row with status, score and notes columns for every check.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(csvRecord(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func csvHeader() []string {
	header := []string{"url", "lang", "overall_score"}
	for _, name := range heuristics.CheckOrder {
		header = append(header, name+"_status", name+"_score", name+"_notes")
	}
	return append(header, "rendered_headless", "error", "in_sitemap", "lastmod", "changefreq", "priority")
}

func csvRecord(row Row) []string {
	record := []string{row.URL, row.Lang, strconv.FormatFloat(row.OverallScore, 'f', 2, 64)}
	for _, name := range heuristics.CheckOrder {
		check, ok := row.Checks[name]
		if !ok {
			record = append(record, "", "", "")
			continue
		}
		record = append(record, string(check.Status), strconv.Itoa(check.Score), check.Notes)
	}
	priority := ""
	if row.Priority != nil {
		priority = strconv.FormatFloat(*row.Priority, 'f', -1, 64)
	}
	return append(record,
		strconv.FormatBool(row.RenderedHeadless),
		row.Error,
		strconv.FormatBool(row.InSitemap),
		row.LastMod,
		row.ChangeFreq,
		priority,
	)
}

// WriteSummary writes s as indented JSON.
func WriteSummary(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

// Emit writes both reports to store and returns their URIs.
func Emit(ctx context.Context, store audit.BlobStore, rows []Row, summary Summary) ([]string, error) {
	var csvBuf, jsonBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, rows); err != nil {
		return nil, err
	}
	if err := WriteSummary(&jsonBuf, summary); err != nil {
		return nil, err
	}
	resultsURI, err := store.PutObject(ctx, ResultsObject, "text/csv", &csvBuf)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", ResultsObject, err)
	}
	summaryURI, err := store.PutObject(ctx, SummaryObject, "application/json", &jsonBuf)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", SummaryObject, err)
	}
	return []string{resultsURI, summaryURI}, nil
}

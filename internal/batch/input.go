// Package batch audits a list of URLs offline and writes CSV and JSON reports.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Target is one URL to audit with its optional locale.
type Target struct {
	URL  string
	Lang string
}

// LoadURLs reads a CSV with a header containing a url column and an optional lang column.
func LoadURLs(r io.Reader) ([]Target, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read url csv header: %w", err)
	}
	urlCol, langCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "url":
			urlCol = i
		case "lang":
			langCol = i
		}
	}
	if urlCol < 0 {
		return nil, errors.New("url csv has no url column")
	}

	var rows []Target
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read url csv: %w", err)
		}
		if urlCol >= len(record) || strings.TrimSpace(record[urlCol]) == "" {
			continue
		}
		row := Target{URL: strings.TrimSpace(record[urlCol])}
		if langCol >= 0 && langCol < len(record) {
			row.Lang = strings.ToLower(strings.TrimSpace(record[langCol]))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LoadURLFile opens path and calls LoadURLs.
func LoadURLFile(path string) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()
	return LoadURLs(f)
}

// FilterURLs keeps rows whose lang is in langs (all rows when langs is empty) and
// truncates the result to subset rows when subset > 0.
func FilterURLs(rows []Target, langs []string, subset int) []Target {
	out := make([]Target, 0, len(rows))
	for _, row := range rows {
		if len(langs) == 0 || slices.Contains(langs, row.Lang) {
			out = append(out, row)
		}
	}
	if subset > 0 && len(out) > subset {
		out = out[:subset]
	}
	return out
}

// LoadKeywords reads keywords_<lang>.txt from dir, falling back to keywords.txt.
// Missing files yield no keywords.
func LoadKeywords(dir, lang string) ([]string, error) {
	candidates := []string{"keywords.txt"}
	if lang != "" {
		candidates = []string{"keywords_" + lang + ".txt", "keywords.txt"}
	}
	for _, name := range candidates {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read keywords %s: %w", name, err)
		}
		return splitKeywords(string(data)), nil
	}
	return nil, nil
}

// LoadKeywordSets loads the keyword list for every distinct lang in rows.
func LoadKeywordSets(dir string, rows []Target) (map[string][]string, error) {
	sets := make(map[string][]string)
	for _, row := range rows {
		if _, done := sets[row.Lang]; done {
			continue
		}
		kws, err := LoadKeywords(dir, row.Lang)
		if err != nil {
			return nil, err
		}
		sets[row.Lang] = kws
	}
	return sets, nil
}

func splitKeywords(data string) []string {
	var out []string
	for _, line := range strings.Split(data, "\n") {
		if k := strings.TrimSpace(line); k != "" {
			out = append(out, k)
		}
	}
	return out
}

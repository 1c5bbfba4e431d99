// Package manifest builds the manifest.jsonl ledger (C4): one record per
// extracted page, sorted by page id for reproducible diffs across runs.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sitebookify/sitebookify/extract"
	"github.com/sitebookify/sitebookify/urlnorm"
)

// Record is one row of manifest.jsonl.
type Record struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	ExtractedMD string `json:"extracted_md"`
}

// Build walks pagesDir (extracted/pages/*.md), parses each page's front
// matter, and returns records sorted by id. It does not itself write
// manifest.jsonl — call Write for that — so callers can validate the
// result (e.g. in the TOC builder) before persisting it.
func Build(pagesDir string) ([]Record, error) {
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read pages dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(pagesDir, entry.Name())
		page, err := extract.ReadPage(path)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", path, err)
		}
		p, err := urlnorm.Path(page.URL)
		if err != nil {
			return nil, fmt.Errorf("manifest: %s: %w", path, err)
		}
		records = append(records, Record{
			ID:          page.ID,
			URL:         page.URL,
			Title:       page.Title,
			Path:        p,
			ExtractedMD: path,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Write serializes records to manifest.jsonl at outPath, one JSON object
// per line in the given order. It refuses to overwrite an existing file.
func Write(outPath string, records []Record) error {
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: manifest.jsonl already exists: %w", err)
	}
	defer f.Close()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("manifest: marshal record %s: %w", r.ID, err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("manifest: write record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Read parses an existing manifest.jsonl back into records.
func Read(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var records []Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("manifest: parse line: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// ByID indexes records by id for O(1) lookups (used by the TOC and
// renderer stages to validate coverage).
func ByID(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}

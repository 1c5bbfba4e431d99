// Package toc builds and validates the table of contents (C5): an init
// mode that groups manifest pages by URL path, and a refine mode that
// hands the manifest to the LLM gateway and validates whatever comes
// back against the same coverage invariants.
package toc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sitebookify/sitebookify/llm"
	"github.com/sitebookify/sitebookify/manifest"
)

// TOC is the hierarchical chapter plan: parts contain chapters, chapters
// cover a set of manifest page ids.
type TOC struct {
	BookTitle string `yaml:"book_title"`
	Parts     []Part `yaml:"parts"`
}

// Part groups chapters under one top-level heading.
type Part struct {
	Title    string    `yaml:"title"`
	Chapters []Chapter `yaml:"chapters"`
}

// Chapter is one chapter: an ordered set of manifest page ids plus,
// when LLM-refined, the intent/reader_gains description spec.md
// requires for LLM-backed chapters.
type Chapter struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Sources     []string `yaml:"sources"`
	Intent      string   `yaml:"intent,omitempty"`
	ReaderGains string   `yaml:"reader_gains,omitempty"`
}

// ErrCoverageViolation is returned when a TOC fails the §3 invariants:
// an unknown page id, a duplicate id, or out-of-sequence chapter ids.
// This is error kind 5 (fatal, never silently accepted).
var ErrCoverageViolation = errors.New("toc: coverage violation")

// Init groups records by their first URL path segment into one Part per
// segment, with one Chapter per deeper group within that segment,
// preserving the order segments are first seen. Chapter ids are
// assigned ch01..chNN in TOC order, part by part.
func Init(bookTitle string, records []manifest.Record) (*TOC, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("toc: init: %w: manifest is empty", ErrCoverageViolation)
	}

	var partOrder []string
	parts := make(map[string]*Part)
	type chapterKey struct{ part, chapter string }
	var chapterOrder []chapterKey
	chapters := make(map[chapterKey]*Chapter)

	nextID := 1
	for _, r := range records {
		segs := pathSegments(r.Path)
		partName := "root"
		chapterName := "index"
		if len(segs) > 0 {
			partName = segs[0]
			if len(segs) > 1 {
				chapterName = segs[1]
			} else {
				chapterName = segs[0]
			}
		}

		if _, ok := parts[partName]; !ok {
			parts[partName] = &Part{Title: titleize(partName)}
			partOrder = append(partOrder, partName)
		}

		ck := chapterKey{part: partName, chapter: chapterName}
		ch, ok := chapters[ck]
		if !ok {
			ch = &Chapter{ID: fmt.Sprintf("ch%02d", nextID), Title: titleize(chapterName)}
			nextID++
			chapters[ck] = ch
			chapterOrder = append(chapterOrder, ck)
		}
		ch.Sources = append(ch.Sources, r.ID)
	}

	t := &TOC{BookTitle: bookTitle}
	for _, pn := range partOrder {
		t.Parts = append(t.Parts, *parts[pn])
	}
	for _, ck := range chapterOrder {
		for i := range t.Parts {
			if t.Parts[i].Title == titleize(ck.part) {
				t.Parts[i].Chapters = append(t.Parts[i].Chapters, *chapters[ck])
				break
			}
		}
	}
	// Renumber in TOC order: records of different parts can interleave,
	// so creation order is not the order chapters end up in.
	seq := 1
	for i := range t.Parts {
		for j := range t.Parts[i].Chapters {
			t.Parts[i].Chapters[j].ID = fmt.Sprintf("ch%02d", seq)
			seq++
		}
	}

	if err := Validate(t, records); err != nil {
		return nil, err
	}
	return t, nil
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func titleize(segment string) string {
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.ReplaceAll(segment, "_", " ")
	words := strings.Fields(segment)
	for i, w := range words {
		if len(w) == 0 {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Root"
	}
	return strings.Join(words, " ")
}

// Validate checks t against the §3 TOC invariants: every source id is a
// manifest id, no id appears twice, and chapter ids form ch01..chNN in
// order.
func Validate(t *TOC, records []manifest.Record) error {
	known := manifest.ByID(records)
	seen := make(map[string]bool)
	expected := 1

	for _, part := range t.Parts {
		for _, ch := range part.Chapters {
			wantID := fmt.Sprintf("ch%02d", expected)
			if ch.ID != wantID {
				return fmt.Errorf("toc: %w: chapter id %q out of sequence, want %q", ErrCoverageViolation, ch.ID, wantID)
			}
			expected++

			for _, id := range ch.Sources {
				if _, ok := known[id]; !ok {
					return fmt.Errorf("toc: %w: chapter %s references unknown page id %s", ErrCoverageViolation, ch.ID, id)
				}
				if seen[id] {
					return fmt.Errorf("toc: %w: page id %s referenced more than once", ErrCoverageViolation, id)
				}
				seen[id] = true
			}
		}
	}
	for id := range known {
		if !seen[id] {
			return fmt.Errorf("toc: %w: page id %s not covered by any chapter", ErrCoverageViolation, id)
		}
	}
	return nil
}

// Write serializes t to toc.yaml at outPath. It refuses to overwrite an
// existing file.
func Write(outPath string, t *TOC) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("toc: marshal: %w", err)
	}
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("toc: toc.yaml already exists: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("toc: write: %w", err)
	}
	return nil
}

// Read parses an existing toc.yaml.
func Read(path string) (*TOC, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toc: read: %w", err)
	}
	var t TOC
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("toc: parse: %w", err)
	}
	return &t, nil
}

// refinePromptTemplate is the instruction sent to the LLM engine along
// with the manifest's (id, url, title) triples. The engine must answer
// with YAML matching the TOC schema, nothing else.
const refinePromptTemplate = `You are organizing a crawled website into a book's table of contents.

Book title: %s

Below is the full list of pages (id, URL, title) that MUST all be covered,
each exactly once, by the table of contents you produce. Group related
pages into chapters, group related chapters into parts, and give each
chapter a short "intent" (what the chapter is for) and "reader_gains"
(what the reader walks away knowing). Do not invent pages; do not omit
any of the listed ids; do not duplicate an id across chapters.

Respond with ONLY a YAML document matching this schema, no commentary:

book_title: <string>
parts:
  - title: <string>
    chapters:
      - id: ch01
        title: <string>
        sources: [<page id>, ...]
        intent: <string>
        reader_gains: <string>

Chapter ids must be assigned ch01, ch02, ... sequentially in the order
chapters appear in the document.

Pages:
%s`

// Refine asks engine to propose a reordered, retitled table of contents
// covering every page in records, then validates the result against the
// same coverage invariants Init enforces. A chapter missing intent or
// reader_gains, or a TOC that fails coverage, is returned as an error;
// Refine does not fall back to Init and never accepts a partial plan.
func Refine(ctx context.Context, engine llm.Engine, bookTitle string, records []manifest.Record) (*TOC, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("toc: refine: %w: manifest is empty", ErrCoverageViolation)
	}

	var pages strings.Builder
	for _, r := range records {
		fmt.Fprintf(&pages, "- id: %s\n  url: %s\n  title: %s\n", r.ID, r.URL, r.Title)
	}
	prompt := fmt.Sprintf(refinePromptTemplate, bookTitle, pages.String())

	resp, err := engine.Complete(ctx, llm.Request{Text: prompt})
	if err != nil {
		return nil, fmt.Errorf("toc: refine: engine call failed: %w", err)
	}

	yamlBody := stripFencing(resp)
	var t TOC
	if err := yaml.Unmarshal([]byte(yamlBody), &t); err != nil {
		return nil, fmt.Errorf("toc: refine: parse engine response: %w", err)
	}
	if t.BookTitle == "" {
		t.BookTitle = bookTitle
	}

	for _, part := range t.Parts {
		for _, ch := range part.Chapters {
			if ch.Intent == "" || ch.ReaderGains == "" {
				return nil, fmt.Errorf("toc: refine: %w: chapter %s missing intent or reader_gains", ErrCoverageViolation, ch.ID)
			}
		}
	}

	if err := Validate(&t, records); err != nil {
		return nil, err
	}
	return &t, nil
}

// stripFencing removes a surrounding ```yaml ... ``` or ``` ... ``` code
// fence if the engine wrapped its YAML response in one.
func stripFencing(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// AllChapters flattens t's parts into a single chapter slice in TOC
// order, the order the renderer and bundler both consume.
func AllChapters(t *TOC) []Chapter {
	var chapters []Chapter
	for _, part := range t.Parts {
		chapters = append(chapters, part.Chapters...)
	}
	return chapters
}

package parser

import (
	"io"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/model"
)

// ScienceDirectParser reads the citation text export from ScienceDirect.
// Entries are separated by blank lines and are positional: authors on the
// first line, title on the second, journal on the third, then citation
// details, an optional "Abstract:" section and an optional "Keywords:"
// section.
type ScienceDirectParser struct{}

var (
	sdEntrySplit = regexp.MustCompile(`\n{2,}`)
	sdDOI        = regexp.MustCompile(`(?:https://doi\.org/|[Dd][Oo][Ii]:|/)(10\.[0-9.]+/[^\s,]+)`)
	sdURL        = regexp.MustCompile(`(https?://[^\s)]+)`)
	sdYear       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	sdAuthor     = regexp.MustCompile(`([^,]+,[^,]+),\s*`)
)

func (p *ScienceDirectParser) Parse(r io.Reader) ([]model.BibliographicRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "parser: read sciencedirect export")
	}

	var records []model.BibliographicRecord
	for _, entry := range sdEntrySplit.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), -1) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if rec, ok := p.parseEntry(entry); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *ScienceDirectParser) parseEntry(entry string) (model.BibliographicRecord, bool) {
	lines := strings.Split(entry, "\n")
	rec := model.BibliographicRecord{SourceType: model.SourceScienceDirect}

	if len(lines) > 0 {
		rec.Authors = splitAuthors(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(lines[0]), ",")))
	}
	if len(lines) > 1 {
		rec.Title = strings.TrimSuffix(strings.TrimSpace(lines[1]), ",")
	}
	if len(lines) > 2 {
		rec.Journal = strings.TrimSuffix(strings.TrimSpace(lines[2]), ",")
	}

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if rec.DOI == "" {
			if m := sdDOI.FindStringSubmatch(line); m != nil {
				rec.DOI = strings.TrimRight(m[1], ".,")
			}
		}
		if rec.URL == "" && strings.Contains(line, "sciencedirect.com") {
			if m := sdURL.FindStringSubmatch(line); m != nil {
				rec.URL = strings.TrimRight(m[1], ".")
			}
		}
		if rec.PublishedDate == "" && i > 2 && i < 6 {
			if m := sdYear.FindString(line); m != "" {
				rec.PublishedDate = m
			}
		}

		if line == "Abstract" || strings.HasPrefix(line, "Abstract:") {
			rec.Abstract = collectSection(lines[i+1:], line)
		}
	}

	if rec.Title == "" {
		zap.L().Warn("skipping sciencedirect entry without title")
		return model.BibliographicRecord{}, false
	}
	return rec, true
}

// collectSection joins the abstract body: everything after the "Abstract"
// marker up to the keywords section. Inline text after "Abstract:" counts.
func collectSection(rest []string, marker string) string {
	var parts []string
	if after := strings.TrimSpace(strings.TrimPrefix(marker, "Abstract:")); after != "" && after != "Abstract" {
		parts = append(parts, after)
	}
	for _, raw := range rest {
		line := strings.TrimSpace(raw)
		if line == "Keywords" || strings.HasPrefix(line, "Keywords:") {
			break
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

// splitAuthors breaks a "Last, F., Last, F." author line into individual
// names, falling back to the whole line when the pattern does not hold.
func splitAuthors(line string) []string {
	if line == "" {
		return nil
	}
	matches := sdAuthor.FindAllStringSubmatch(line+",", -1)
	if len(matches) == 0 {
		return []string{line}
	}
	authors := make([]string, 0, len(matches))
	for _, m := range matches {
		authors = append(authors, strings.TrimSpace(m[1]))
	}
	return authors
}

package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/litstack/litreview/internal/model"
)

// WOSParser reads the Web of Science plain-text export format. Records
// start at a "PT " line and carry two-character field codes; "FN" and "VR"
// header lines are skipped and "EF" ends the file. Continuation lines are
// indented three spaces.
type WOSParser struct{}

var wosField = regexp.MustCompile(`^[A-Z][A-Z0-9] `)

func (p *WOSParser) Parse(r io.Reader) ([]model.BibliographicRecord, error) {
	var records []model.BibliographicRecord

	entry := newTaggedEntry()
	flush := func() {
		if rec, ok := p.toRecord(entry); ok {
			records = append(records, rec)
		}
		entry = newTaggedEntry()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "FN ") || strings.HasPrefix(trimmed, "VR "):
			continue
		case trimmed == "EF":
			flush()
			return records, nil
		case trimmed == "ER":
			flush()
		case strings.HasPrefix(line, "PT "):
			flush()
			entry.add("PT", strings.TrimSpace(line[3:]))
		case wosField.MatchString(line):
			entry.add(line[:2], strings.TrimSpace(line[3:]))
		case strings.HasPrefix(line, "   "):
			// Author fields list one name per continuation line; every
			// other field wraps long values across lines.
			if entry.last == "AU" || entry.last == "AF" {
				entry.add(entry.last, trimmed)
			} else {
				entry.extend(trimmed)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "parser: read wos export")
	}
	flush()

	return records, nil
}

func (p *WOSParser) toRecord(e *taggedEntry) (model.BibliographicRecord, bool) {
	if e.empty() {
		return model.BibliographicRecord{}, false
	}

	rec := model.BibliographicRecord{
		WOSID:         e.first("UT"),
		Title:         e.first("TI"),
		Abstract:      e.first("AB"),
		Journal:       e.first("SO"),
		DOI:           e.first("DI"),
		PMID:          e.first("PM"),
		PublishedDate: e.first("PY"),
		Authors:       e.all("AU"),
		SourceType:    model.SourceWOS,
	}
	if pd := e.first("PD"); pd != "" && rec.PublishedDate != "" {
		rec.PublishedDate = pd + " " + rec.PublishedDate
	}

	if rec.Title == "" && rec.WOSID == "" {
		zap.L().Warn("skipping wos entry without title or accession number")
		return model.BibliographicRecord{}, false
	}
	return rec, true
}

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

// PubMedParser reads the MEDLINE tag format produced by PubMed's
// "Save as: PubMed" export (.nbib / .txt). Each record is a run of
// "TAG - value" lines separated by a blank line; continuation lines are
// indented and extend the previous tag.
type PubMedParser struct{}

var medlineTag = regexp.MustCompile(`^([A-Z0-9]+)\s*-\s*(.*)$`)

// aidDOI matches AID/LID values carrying the " [doi]" marker.
var aidDOI = regexp.MustCompile(`^(.*?)\s+\[doi\]$`)

func (p *PubMedParser) Parse(r io.Reader) ([]model.BibliographicRecord, error) {
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
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if m := medlineTag.FindStringSubmatch(line); m != nil {
			entry.add(m[1], strings.TrimSpace(m[2]))
			continue
		}
		// Indented continuation of the previous tag.
		entry.extend(strings.TrimSpace(line))
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "parser: read pubmed export")
	}
	flush()

	return records, nil
}

func (p *PubMedParser) toRecord(e *taggedEntry) (model.BibliographicRecord, bool) {
	if e.empty() {
		return model.BibliographicRecord{}, false
	}

	rec := model.BibliographicRecord{
		PMID:          e.first("PMID"),
		Title:         e.first("TI"),
		Abstract:      e.first("AB"),
		Journal:       e.first("JT"),
		PublishedDate: e.first("DP"),
		Authors:       e.all("AU"),
		SourceType:    model.SourcePubMed,
	}
	if rec.Journal == "" {
		rec.Journal = e.first("TA")
	}

	// The DOI hides in LID or AID values suffixed with " [doi]".
	for _, v := range append(e.all("LID"), e.all("AID")...) {
		if m := aidDOI.FindStringSubmatch(v); m != nil {
			rec.DOI = m[1]
			break
		}
	}

	if rec.Title == "" && rec.PMID == "" {
		zap.L().Warn("skipping pubmed entry without title or PMID")
		return model.BibliographicRecord{}, false
	}
	return rec, true
}

// taggedEntry accumulates tag values for one record, preserving repeats.
type taggedEntry struct {
	values map[string][]string
	last   string
}

func newTaggedEntry() *taggedEntry {
	return &taggedEntry{values: make(map[string][]string)}
}

func (e *taggedEntry) add(tag, value string) {
	e.values[tag] = append(e.values[tag], value)
	e.last = tag
}

func (e *taggedEntry) extend(text string) {
	if e.last == "" || text == "" {
		return
	}
	vs := e.values[e.last]
	if len(vs) > 0 {
		vs[len(vs)-1] += " " + text
	}
}

func (e *taggedEntry) first(tag string) string {
	if vs := e.values[tag]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (e *taggedEntry) all(tag string) []string {
	return e.values[tag]
}

func (e *taggedEntry) empty() bool {
	return len(e.values) == 0
}

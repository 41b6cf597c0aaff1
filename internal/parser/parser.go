// Package parser turns database export files into bibliographic records.
// Each supported source has its own export syntax; the parsers normalize
// all of them onto model.BibliographicRecord. A malformed entry is skipped
// with a warning rather than failing the whole file.
package parser

import (
	"io"

	"github.com/rotisserie/eris"

	"github.com/litstack/litreview/internal/model"
)

// Parser reads one export file into records.
type Parser interface {
	Parse(r io.Reader) ([]model.BibliographicRecord, error)
}

// ForSource returns the parser for a source type.
func ForSource(source model.SourceType) (Parser, error) {
	switch source {
	case model.SourcePubMed:
		return &PubMedParser{}, nil
	case model.SourceWOS:
		return &WOSParser{}, nil
	case model.SourceScienceDirect:
		return &ScienceDirectParser{}, nil
	}
	return nil, eris.Errorf("parser: unsupported source type %q", source)
}

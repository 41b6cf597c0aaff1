package model

import (
	"fmt"
	"strings"
)

// SourceType identifies the literature database a record was exported from.
type SourceType string

const (
	SourcePubMed        SourceType = "pubmed"
	SourceWOS           SourceType = "wos"
	SourceScienceDirect SourceType = "sciencedirect"
)

// ParseSourceType validates a source type string from configuration.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(strings.ToLower(strings.TrimSpace(s))) {
	case SourcePubMed:
		return SourcePubMed, nil
	case SourceWOS:
		return SourceWOS, nil
	case SourceScienceDirect:
		return SourceScienceDirect, nil
	default:
		return "", fmt.Errorf("unknown source type %q", s)
	}
}

// RecordRef identifies an absorbed duplicate for provenance.
type RecordRef struct {
	SourceType SourceType `json:"source_type"`
	DOI        string     `json:"doi,omitempty"`
	PMID       string     `json:"pmid,omitempty"`
	WOSID      string     `json:"wos_id,omitempty"`
	Title      string     `json:"title,omitempty"`
}

// BibliographicRecord is one publication as exported from a source database.
// Parsers produce field-normalized records (trimmed strings, ISO-like dates);
// the Enrichment map accumulates journal metrics and AI summary fields.
type BibliographicRecord struct {
	Title         string     `json:"title"`
	Abstract      string     `json:"abstract,omitempty"`
	Authors       []string   `json:"authors,omitempty"`
	Journal       string     `json:"journal,omitempty"`
	DOI           string     `json:"doi,omitempty"`
	PMID          string     `json:"pmid,omitempty"`
	WOSID         string     `json:"wos_id,omitempty"`
	URL           string     `json:"url,omitempty"`
	PublishedDate string     `json:"published_date,omitempty"`
	SourceType    SourceType `json:"source_type"`

	Enrichment map[string]string `json:"enrichment,omitempty"`
	MergedFrom []RecordRef       `json:"merged_from,omitempty"`
}

// Ref returns the provenance reference for this record.
func (r *BibliographicRecord) Ref() RecordRef {
	return RecordRef{
		SourceType: r.SourceType,
		DOI:        r.DOI,
		PMID:       r.PMID,
		WOSID:      r.WOSID,
		Title:      r.Title,
	}
}

// SetEnrichment stores an enrichment value, allocating the map on first use.
func (r *BibliographicRecord) SetEnrichment(key, value string) {
	if r.Enrichment == nil {
		r.Enrichment = make(map[string]string)
	}
	r.Enrichment[key] = value
}

// EnrichmentOrDefault returns the enrichment value for key, or def when the
// value is absent or empty.
func (r *BibliographicRecord) EnrichmentOrDefault(key, def string) string {
	if v, ok := r.Enrichment[key]; ok && v != "" {
		return v
	}
	return def
}

// DOILink returns the doi.org resolver URL for the record, or "" without a DOI.
func (r *BibliographicRecord) DOILink() string {
	doi := strings.TrimSpace(strings.TrimSuffix(r.DOI, " [doi]"))
	if doi == "" {
		return ""
	}
	return "https://doi.org/" + doi
}

// PubMedLink returns the PubMed entry URL, or "" without a PMID.
func (r *BibliographicRecord) PubMedLink() string {
	if r.PMID == "" {
		return ""
	}
	return "https://pubmed.ncbi.nlm.nih.gov/" + r.PMID + "/"
}

// WOSLink returns the Web of Science full-record URL, or "" without a WOS ID.
func (r *BibliographicRecord) WOSLink() string {
	if r.WOSID == "" {
		return ""
	}
	return "https://www.webofscience.com/wos/woscc/full-record/" + r.WOSID
}

// TitleLink returns the best available link for the record's title cell.
// Source-native links win over the DOI resolver: WOS records link to Web of
// Science, PubMed records to PubMed, ScienceDirect records to their article
// URL, and anything else falls back to doi.org.
func (r *BibliographicRecord) TitleLink() string {
	switch r.SourceType {
	case SourceWOS:
		if l := r.WOSLink(); l != "" {
			return l
		}
	case SourcePubMed:
		if l := r.PubMedLink(); l != "" {
			return l
		}
	case SourceScienceDirect:
		if r.URL != "" {
			return r.URL
		}
	}
	return r.DOILink()
}

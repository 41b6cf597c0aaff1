package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litstack/litreview/internal/model"
)

func TestNormalizeDOI(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10.1/X", "10.1/x"},
		{"  10.1000/j.cell.2020.01.001 [doi]", "10.1000/j.cell.2020.01.001"},
		{"https://doi.org/10.1/X", "10.1/x"},
		{"http://dx.doi.org/10.1/x", "10.1/x"},
		{"doi:10.1/x", "10.1/x"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDOI(tt.input), "input: %q", tt.input)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"The  Quick, Brown Fox!", "the quick brown fox"},
		{"Beta-blockers in héart failure", "beta blockers in heart failure"},
		{"  Spaces \t everywhere  ", "spaces everywhere"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.input), "input: %q", tt.input)
	}
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, Dedupe(nil))
	assert.Empty(t, Dedupe([]Record{}))
}

func TestDedupe_DOIAuthority(t *testing.T) {
	// Identical non-empty DOIs merge even with dissimilar titles.
	records := []Record{
		{Title: "Foo", DOI: "10.1/x", SourceType: model.SourcePubMed},
		{Title: "Completely different title", DOI: "10.1/X", SourceType: model.SourceWOS},
	}
	out := Dedupe(records)
	require.Len(t, out, 1)
	assert.Equal(t, "Foo", out[0].Title)
	require.Len(t, out[0].MergedFrom, 1)
	assert.Equal(t, model.SourceWOS, out[0].MergedFrom[0].SourceType)
}

func TestDedupe_ConflictingDOIsNeverMerge(t *testing.T) {
	// Same normalized title, distinct non-empty DOIs: distinct works.
	records := []Record{
		{Title: "Foo Bar", DOI: "10.1/x"},
		{Title: "foo bar", DOI: "10.1/y"},
	}
	out := Dedupe(records)
	assert.Len(t, out, 2)
}

func TestDedupe_TitleMatchWithMissingDOI(t *testing.T) {
	records := []Record{
		{Title: "Foo Bar", DOI: "10.1/x"},
		{Title: "Foo bar."},
	}
	out := Dedupe(records)
	require.Len(t, out, 1)
	assert.Equal(t, "10.1/x", out[0].DOI)
}

func TestDedupe_PMIDMatch(t *testing.T) {
	records := []Record{
		{Title: "Alpha", PMID: "12345"},
		{Title: "Alpha (updated)", PMID: "12345"},
	}
	out := Dedupe(records)
	assert.Len(t, out, 1)
}

func TestDedupe_PMIDMatchVetoedByDOIConflict(t *testing.T) {
	// DOI-first priority: conflicting DOIs keep records apart even when
	// PMIDs agree.
	records := []Record{
		{Title: "Alpha", PMID: "12345", DOI: "10.1/x"},
		{Title: "Alpha", PMID: "12345", DOI: "10.1/y"},
	}
	out := Dedupe(records)
	assert.Len(t, out, 2)
}

func TestDedupe_DOIlessRecordCannotBridgeConflictingDOIs(t *testing.T) {
	// A DOI-less record shares its title with two conflicting-DOI records.
	// It may join one of them, but must not pull all three into one group.
	records := []Record{
		{Title: "Foo Bar", DOI: "10.1/x"},
		{Title: "Foo Bar"},
		{Title: "Foo Bar", DOI: "10.1/y"},
	}
	out := Dedupe(records)
	require.Len(t, out, 2)
	assert.Equal(t, "10.1/x", out[0].DOI)
	assert.Len(t, out[0].MergedFrom, 1)
	assert.Equal(t, "10.1/y", out[1].DOI)
	assert.Empty(t, out[1].MergedFrom)
}

func TestDedupe_PMIDBridgeBlockedByGroupDOI(t *testing.T) {
	// The DOI-less record is absorbed first and its group inherits the DOI,
	// so the later conflicting-DOI record stays apart even though all three
	// share a PMID.
	records := []Record{
		{Title: "Alpha", PMID: "12345"},
		{Title: "Beta", PMID: "12345", DOI: "10.1/x"},
		{Title: "Gamma", PMID: "12345", DOI: "10.1/y"},
	}
	out := Dedupe(records)
	require.Len(t, out, 2)
	assert.Equal(t, "10.1/x", out[0].DOI)
	assert.Equal(t, "10.1/y", out[1].DOI)
}

func TestDedupe_CanonicalFieldFallback(t *testing.T) {
	// Example from the design notes: a sparse first record is completed by
	// a fuller duplicate, first-seen values win where both are set.
	records := []Record{
		{Title: "Foo", DOI: "10.1/x", SourceType: model.SourcePubMed},
		{
			Title:      "Foo (preprint)",
			DOI:        "10.1/x",
			Abstract:   "Background: something important.",
			Journal:    "J Important Res",
			Authors:    []string{"Smith J", "Doe A"},
			SourceType: model.SourceWOS,
			WOSID:      "WOS:0001",
		},
	}
	out := Dedupe(records)
	require.Len(t, out, 1)
	c := out[0]
	assert.Equal(t, "Foo", c.Title)
	assert.Equal(t, "Background: something important.", c.Abstract)
	assert.Equal(t, "J Important Res", c.Journal)
	assert.Equal(t, []string{"Smith J", "Doe A"}, c.Authors)
	assert.Equal(t, "WOS:0001", c.WOSID)
	assert.Equal(t, model.SourcePubMed, c.SourceType)
}

func TestDedupe_OrderPreserved(t *testing.T) {
	records := []Record{
		{Title: "One", DOI: "10.1/a"},
		{Title: "Two", DOI: "10.1/b"},
		{Title: "One again", DOI: "10.1/a"},
		{Title: "Three", DOI: "10.1/c"},
	}
	out := Dedupe(records)
	require.Len(t, out, 3)
	assert.Equal(t, "One", out[0].Title)
	assert.Equal(t, "Two", out[1].Title)
	assert.Equal(t, "Three", out[2].Title)
}

func TestDedupe_Idempotent(t *testing.T) {
	records := []Record{
		{Title: "Foo", DOI: "10.1/x"},
		{Title: "Foo (preprint)", DOI: "10.1/x", Abstract: "abs"},
		{Title: "Bar", PMID: "99"},
		{Title: "bar!", PMID: "99"},
		{Title: "Shared Title", DOI: "10.1/p"},
		{Title: "Shared Title", DOI: "10.1/q"},
		{Title: "No identifiers at all"},
	}
	once := Dedupe(records)
	twice := Dedupe(once)
	assert.Equal(t, once, twice)
}

func TestDedupe_TransitiveMergeAcrossKeys(t *testing.T) {
	// A bridges to B by DOI and to C by PMID: all three collapse.
	records := []Record{
		{Title: "A", DOI: "10.1/x", PMID: "1"},
		{Title: "B", DOI: "10.1/x"},
		{Title: "C", PMID: "1"},
	}
	out := Dedupe(records)
	require.Len(t, out, 1)
	assert.Len(t, out[0].MergedFrom, 2)
}

func TestGroups_Statistics(t *testing.T) {
	records := []Record{
		{Title: "Foo", DOI: "10.1/x"},
		{Title: "Foo", DOI: "10.1/x"},
		{Title: "Solo"},
	}
	groups := Groups(records)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Duplicates, 1)
	assert.Empty(t, groups[1].Duplicates)
}

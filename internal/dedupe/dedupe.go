// Package dedupe groups bibliographic records referring to the same
// publication and produces one canonical record per group. It is a pure
// in-memory transformation: no I/O, deterministic, and idempotent.
package dedupe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/litstack/litreview/internal/model"
)

// Group is one dedup equivalence class: a canonical record plus the
// duplicates it absorbed. Groups are consumed immediately to build the
// canonical set and are not retained afterward.
type Group struct {
	Canonical  Record
	Duplicates []Record
}

// Record aliases the shared record type so call sites read naturally.
type Record = model.BibliographicRecord

// Dedupe partitions records into equivalence classes keyed by DOI, PMID and
// normalized title (in that priority order) and returns one canonical record
// per class. Output preserves the first-seen order of each surviving record.
// Re-running Dedupe on its own output yields the same output.
func Dedupe(records []Record) []Record {
	groups := Groups(records)
	out := make([]Record, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Canonical)
	}
	return out
}

// Groups computes the dedup equivalence classes without discarding the
// absorbed duplicates, for callers that want group statistics.
func Groups(records []Record) []Group {
	if len(records) == 0 {
		return nil
	}

	uf := newUnionFind(len(records))

	dois := make([]string, len(records))
	for i := range records {
		dois[i] = NormalizeDOI(records[i].DOI)
	}

	// groupDOI holds the one non-empty DOI a group carries, read and written
	// at the union-find root. unite vetoes any union whose two groups carry
	// disagreeing DOIs, so the conflict check covers every member already
	// absorbed, not just the pair at hand. Without this, a DOI-less record
	// matched by title or PMID could bridge two conflicting-DOI records into
	// one group.
	groupDOI := make([]string, len(records))
	copy(groupDOI, dois)
	unite := func(a, b int) bool {
		ra, rb := uf.find(a), uf.find(b)
		if ra == rb {
			return true
		}
		if doiConflict(groupDOI[ra], groupDOI[rb]) {
			return false
		}
		uf.union(ra, rb)
		if r := uf.find(ra); groupDOI[r] == "" {
			if groupDOI[ra] != "" {
				groupDOI[r] = groupDOI[ra]
			} else {
				groupDOI[r] = groupDOI[rb]
			}
		}
		return true
	}

	// Pass 1: exact DOI match. DOI is authoritative: equality merges
	// regardless of how dissimilar the titles are.
	byDOI := make(map[string]int)
	for i := range records {
		if dois[i] == "" {
			continue
		}
		if j, ok := byDOI[dois[i]]; ok {
			unite(j, i)
		} else {
			byDOI[dois[i]] = i
		}
	}

	// Pass 2: exact PMID match. DOI evidence outranks PMID evidence, so a
	// union is refused whenever the groups' DOIs disagree.
	byPMID := make(map[string]int)
	for i := range records {
		pmid := strings.TrimSpace(records[i].PMID)
		if pmid == "" {
			continue
		}
		if j, ok := byPMID[pmid]; ok {
			unite(j, i)
		} else {
			byPMID[pmid] = i
		}
	}

	// Pass 3: normalized title match. Two records with the same title but
	// distinct non-empty DOIs are distinct works (preprint vs. final,
	// erratum vs. article), so a title match never overrides DOI evidence;
	// a record may still join another same-title group with a compatible
	// DOI.
	byTitle := make(map[string][]int)
	for i := range records {
		title := NormalizeTitle(records[i].Title)
		if title == "" {
			continue
		}
		for _, j := range byTitle[title] {
			if unite(j, i) {
				break
			}
		}
		byTitle[title] = append(byTitle[title], i)
	}

	// Collect members per root in input order.
	members := make(map[int][]int)
	var roots []int
	for i := range records {
		r := uf.find(i)
		if _, seen := members[r]; !seen {
			roots = append(roots, r)
		}
		members[r] = append(members[r], i)
	}

	groups := make([]Group, 0, len(roots))
	for _, r := range roots {
		idx := members[r]
		g := Group{Canonical: merge(records, idx)}
		for _, i := range idx[1:] {
			g.Duplicates = append(g.Duplicates, records[i])
		}
		groups = append(groups, g)
	}
	return groups
}

// merge builds the canonical record for a group by source-priority fallback:
// every field takes the first non-empty value in input order, so a sparse
// record is completed by a fuller duplicate.
func merge(records []Record, idx []int) Record {
	out := records[idx[0]]
	// Clone slices and maps so the canonical record does not alias input.
	out.Authors = append([]string(nil), out.Authors...)
	out.MergedFrom = append([]model.RecordRef(nil), out.MergedFrom...)
	if out.Enrichment != nil {
		m := make(map[string]string, len(out.Enrichment))
		for k, v := range out.Enrichment {
			m[k] = v
		}
		out.Enrichment = m
	}

	for _, i := range idx[1:] {
		d := records[i]
		fillString(&out.Title, d.Title)
		fillString(&out.Abstract, d.Abstract)
		fillString(&out.Journal, d.Journal)
		fillString(&out.DOI, d.DOI)
		fillString(&out.PMID, d.PMID)
		fillString(&out.WOSID, d.WOSID)
		fillString(&out.URL, d.URL)
		fillString(&out.PublishedDate, d.PublishedDate)
		if len(out.Authors) == 0 && len(d.Authors) > 0 {
			out.Authors = append([]string(nil), d.Authors...)
		}
		out.MergedFrom = append(out.MergedFrom, d.Ref())
	}
	return out
}

func fillString(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}

// doiConflict reports whether two normalized DOIs are both present and
// disagree.
func doiConflict(a, b string) bool {
	return a != "" && b != "" && a != b
}

// doiPrefixes are URL/scheme prefixes stripped during DOI normalization.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeDOI produces the comparison key for a DOI: case-folded, resolver
// prefixes stripped, and the PubMed " [doi]" suffix removed.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	doi = strings.TrimSuffix(doi, " [doi]")
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, p := range doiPrefixes {
		if strings.HasPrefix(doi, p) {
			doi = doi[len(p):]
			break
		}
	}
	return strings.TrimSpace(doi)
}

// stripMarks removes combining marks after NFD decomposition, so accented
// and unaccented spellings of the same title compare equal.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle produces the comparison key for a title: diacritics
// stripped, case-folded, punctuation removed, whitespace runs collapsed.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	if folded, _, err := transform.String(stripMarks, title); err == nil {
		title = folded
	}
	title = strings.ToLower(title)

	var b strings.Builder
	b.Grow(len(title))
	space := false
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// Punctuation and whitespace both act as separators.
			space = true
		}
	}
	return b.String()
}

// unionFind is a standard disjoint-set with path compression and union by
// rank. Merges always keep the smaller index as representative so group
// output order follows input order.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	// Keep the lower index as root: first-seen record stays canonical.
	if rb < ra {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
}

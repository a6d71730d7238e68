package aggregator

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/ternarybob/colligo/internal/models"
)

// normalizeTitle produces the dedup form of a title. Full-width characters
// fold to their half-width equivalents so CJK punctuation variants of the
// same title collapse to one key, case is lowered, and runs of Unicode
// whitespace collapse to single spaces.
func normalizeTitle(title string) string {
	folded := strings.ToLower(width.Fold.String(title))

	var b strings.Builder
	b.Grow(len(folded))
	inSpace := false
	for _, r := range folded {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// dedupKey builds the canonical key: normalized title plus year, or
// title-only while no contributor has supplied a year
func dedupKey(normTitle string, year int) string {
	if year > 0 {
		return normTitle + "|" + strconv.Itoa(year)
	}
	return normTitle
}

// contribution is one raw record tagged with its source's merge precedence
type contribution struct {
	record   models.RawRecord
	priority int
}

// group accumulates the raw records believed to denote one drama
type group struct {
	key          string
	title        string // normalized
	year         int
	contributors []contribution
}

// deduper groups raw records by dedup key, preserving first-seen order.
// Records must be added in deterministic order (sources by priority, then
// record index) so merging is reproducible.
type deduper struct {
	groups  []*group
	byKey   map[string]*group
	byTitle map[string][]*group
}

func newDeduper() *deduper {
	return &deduper{
		byKey:   make(map[string]*group),
		byTitle: make(map[string][]*group),
	}
}

// add files a raw record into its dedup group. Untitled records carry no
// usable identity and are dropped.
func (d *deduper) add(record models.RawRecord, priority int) {
	normTitle := normalizeTitle(record.Title)
	if normTitle == "" {
		return
	}

	c := contribution{record: record, priority: priority}

	if record.Year > 0 {
		key := dedupKey(normTitle, record.Year)
		if g, ok := d.byKey[key]; ok {
			g.contributors = append(g.contributors, c)
			return
		}
		// A title-only group gains its year from the first dated contributor
		for _, g := range d.byTitle[normTitle] {
			if g.year == 0 {
				delete(d.byKey, g.key)
				g.year = record.Year
				g.key = key
				d.byKey[key] = g
				g.contributors = append(g.contributors, c)
				return
			}
		}
		d.newGroup(key, normTitle, record.Year, c)
		return
	}

	// No year: attach to the first-seen group with the same title
	if titleGroups := d.byTitle[normTitle]; len(titleGroups) > 0 {
		titleGroups[0].contributors = append(titleGroups[0].contributors, c)
		return
	}
	d.newGroup(dedupKey(normTitle, 0), normTitle, 0, c)
}

func (d *deduper) newGroup(key, normTitle string, year int, c contribution) {
	g := &group{
		key:          key,
		title:        normTitle,
		year:         year,
		contributors: []contribution{c},
	}
	d.groups = append(d.groups, g)
	d.byKey[key] = g
	d.byTitle[normTitle] = append(d.byTitle[normTitle], g)
}

// fieldPick records which precedence set a field and how long its value was
type fieldPick struct {
	priority int
	length   int
}

// merger folds contributions into one canonical record. Contributions must
// arrive in priority order; within equal priority the longer value wins.
type merger struct {
	record models.DramaRecord
	picks  map[string]fieldPick
}

func newMerger(key string) *merger {
	return &merger{
		record: models.DramaRecord{Key: key},
		picks:  make(map[string]fieldPick),
	}
}

func (m *merger) setString(field string, dst *string, candidate string, priority int) {
	if candidate == "" {
		return
	}
	cur, ok := m.picks[field]
	if !ok || (priority == cur.priority && len(candidate) > cur.length) {
		*dst = candidate
		m.picks[field] = fieldPick{priority: priority, length: len(candidate)}
	}
}

func (m *merger) setInt(field string, dst *int, candidate, priority int) {
	if candidate == 0 {
		return
	}
	if _, ok := m.picks[field]; !ok {
		*dst = candidate
		m.picks[field] = fieldPick{priority: priority}
	}
}

func (m *merger) setFloat(field string, dst *float64, candidate float64, priority int) {
	if candidate <= 0 {
		return
	}
	if _, ok := m.picks[field]; !ok {
		*dst = candidate
		m.picks[field] = fieldPick{priority: priority}
	}
}

func (m *merger) setStrings(field string, dst *[]string, candidate []string, priority int) {
	if len(candidate) == 0 {
		return
	}
	cur, ok := m.picks[field]
	if !ok || (priority == cur.priority && len(candidate) > cur.length) {
		*dst = append([]string(nil), candidate...)
		m.picks[field] = fieldPick{priority: priority, length: len(candidate)}
	}
}

func (m *merger) fold(c contribution) {
	r := c.record
	p := c.priority

	m.setString("title", &m.record.Title, r.Title, p)
	m.setString("original_title", &m.record.OriginalTitle, r.OriginalTitle, p)
	m.setInt("year", &m.record.Year, r.Year, p)
	m.setFloat("rating", &m.record.Rating, r.Rating, p)
	m.setInt("episode_count", &m.record.EpisodeCount, r.EpisodeCount, p)
	m.setStrings("genres", &m.record.Genres, r.Genres, p)
	m.setStrings("directors", &m.record.Directors, r.Directors, p)
	m.setStrings("cast", &m.record.Cast, r.Cast, p)
	m.setString("synopsis", &m.record.Synopsis, r.Synopsis, p)
	m.setStrings("tags", &m.record.Tags, r.Tags, p)
	m.setString("cover_url", &m.record.CoverURL, r.CoverURL, p)
	m.setString("detail_url", &m.record.DetailURL, r.DetailURL, p)

	if r.Source != "" && !m.record.HasSource(r.Source) {
		m.record.Sources = append(m.record.Sources, r.Source)
	}
}

// merge produces the canonical record for one dedup group
func (g *group) merge() models.DramaRecord {
	m := newMerger(g.key)
	for _, c := range g.contributors {
		m.fold(c)
	}
	m.record.CompletenessScore = completenessScore(&m.record, len(m.record.Sources))
	return m.record
}

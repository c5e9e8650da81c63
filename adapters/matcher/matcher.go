// Package matcher scores minutiae prints against each other by voting for
// the translation that aligns the most compatible minutia pairs.
package matcher

import (
	"bytes"
	"sort"

	"github.com/Skryldev/fprint/core"
)

// Matcher implements core.Matcher. Scores range from 0 to 100: the share
// of minutiae that pair up under the best translation.
type Matcher struct {
	// DistTolerance is the largest distance, in pixels, between paired
	// minutiae after alignment.
	DistTolerance int
	// AngleTolerance is the largest direction difference, in degrees.
	AngleTolerance int
	// Candidates is the number of best-voted translations that are
	// scored in full.
	Candidates int
}

var _ core.Matcher = (*Matcher)(nil)

func New() *Matcher {
	return &Matcher{DistTolerance: 10, AngleTolerance: 25, Candidates: 4}
}

// Score returns the best score of any enrolled template against any probe
// template. Raw prints score 100 when their data is identical.
func (m *Matcher) Score(enrolled, probe *core.Print) int {
	if enrolled == nil || probe == nil || enrolled.Type != probe.Type {
		return 0
	}
	if enrolled.Type == core.PrintRaw {
		if len(enrolled.Data) > 0 && bytes.Equal(enrolled.Data, probe.Data) {
			return 100
		}
		return 0
	}
	best := 0
	for _, a := range enrolled.Templates {
		for _, b := range probe.Templates {
			if s := m.scoreTemplates(a, b); s > best {
				best = s
			}
		}
	}
	return best
}

type offset struct{ dx, dy int }

type tally struct {
	votes  int
	sx, sy int
}

func (m *Matcher) scoreTemplates(a, b []core.Minutia) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bin := max(1, m.DistTolerance)

	buckets := make(map[offset]*tally)
	for _, ma := range a {
		for _, mb := range b {
			if !m.compatible(ma, mb) {
				continue
			}
			dx, dy := ma.X-mb.X, ma.Y-mb.Y
			o := offset{floorDiv(dx, bin), floorDiv(dy, bin)}
			t := buckets[o]
			if t == nil {
				t = &tally{}
				buckets[o] = t
			}
			t.votes++
			t.sx += dx
			t.sy += dy
		}
	}
	if len(buckets) == 0 {
		return 0
	}

	ranked := make([]offset, 0, len(buckets))
	for o := range buckets {
		ranked = append(ranked, o)
	}
	sort.Slice(ranked, func(i, j int) bool {
		vi, vj := buckets[ranked[i]].votes, buckets[ranked[j]].votes
		if vi != vj {
			return vi > vj
		}
		if ranked[i].dx != ranked[j].dx {
			return ranked[i].dx < ranked[j].dx
		}
		return ranked[i].dy < ranked[j].dy
	})

	best := 0
	for i := 0; i < len(ranked) && i < max(1, m.Candidates); i++ {
		t := buckets[ranked[i]]
		// mean translation of the bucket
		if n := m.pairs(a, b, t.sx/t.votes, t.sy/t.votes); n > best {
			best = n
		}
	}
	return 200 * best / (len(a) + len(b))
}

// pairs greedily pairs minutiae of b shifted by (dx, dy) with minutiae of
// a.
func (m *Matcher) pairs(a, b []core.Minutia, dx, dy int) int {
	used := make([]bool, len(a))
	limit := m.DistTolerance * m.DistTolerance
	n := 0
	for _, mb := range b {
		x, y := mb.X+dx, mb.Y+dy
		pick, pickDist := -1, limit+1
		for i, ma := range a {
			if used[i] || !m.compatible(ma, mb) {
				continue
			}
			ex, ey := ma.X-x, ma.Y-y
			if d := ex*ex + ey*ey; d <= limit && d < pickDist {
				pick, pickDist = i, d
			}
		}
		if pick >= 0 {
			used[pick] = true
			n++
		}
	}
	return n
}

func (m *Matcher) compatible(a, b core.Minutia) bool {
	if a.Kind != b.Kind {
		return false
	}
	d := a.Direction - b.Direction
	if d < 0 {
		d = -d
	}
	d %= 360
	if d > 180 {
		d = 360 - d
	}
	return d <= m.AngleTolerance
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

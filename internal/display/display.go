// Package display implements the Display Calibrator (spec.md §4.9, C9): a
// pure, storage-free function from a bucket's scored candidates and a
// caller-chosen slider to a ranked display view and verdict.
package display

import (
	"math"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
)

// Verdict enumerates the labels spec.md §4.9 assigns a displayed claim.
type Verdict string

const (
	VerdictVerified     Verdict = "verified"
	VerdictSupported    Verdict = "supported"
	VerdictDisputed     Verdict = "disputed"
	VerdictInsufficient Verdict = "insufficient"
	VerdictUnknown      Verdict = "unknown"
)

// gammaPoints are the piecewise-linear gamma control points from spec.md
// §4.9, keyed by slider position. The gate control points are given inline
// in gatesAt.
var gammaPoints = []point{{0.0, 2.2}, {0.5, 1.0}, {1.0, 0.6}}

type point struct{ x, y float64 }

// lerp evaluates the piecewise-linear function defined by pts (sorted by
// x) at s, clamping s to [pts[0].x, pts[len-1].x].
func lerp(pts []point, s float64) float64 {
	if s <= pts[0].x {
		return pts[0].y
	}
	last := len(pts) - 1
	if s >= pts[last].x {
		return pts[last].y
	}
	for i := 0; i < last; i++ {
		a, b := pts[i], pts[i+1]
		if s >= a.x && s <= b.x {
			t := (s - a.x) / (b.x - a.x)
			return a.y + t*(b.y-a.y)
		}
	}
	return pts[last].y
}

// Gamma returns gamma(s), the truth_display exponent (spec.md §4.9).
func Gamma(s float64) float64 {
	return lerp(gammaPoints, s)
}

// gates holds the four slider-dependent thresholds from spec.md §4.9's table.
type gates struct {
	minTruthDisplay    float64
	minIndependent     float64
	maxContradiction   float64
	tieMargin          float64
}

func gatesAt(s float64) gates {
	return gates{
		minTruthDisplay:  lerp([]point{{0.0, 0.85}, {0.5, 0.70}, {1.0, 0.45}}, s),
		minIndependent:   lerp([]point{{0.0, 2}, {0.5, 1}, {1.0, 0}}, s),
		maxContradiction: lerp([]point{{0.0, 0.15}, {0.5, 0.30}, {1.0, 0.60}}, s),
		tieMargin:        lerp([]point{{0.0, 0.12}, {0.5, 0.07}, {1.0, 0.03}}, s),
	}
}

// TruthDisplay computes truth_display = truth_raw ^ gamma(s) for a given
// slider position.
func TruthDisplay(truthRaw, s float64) float64 {
	if truthRaw <= 0 {
		return 0
	}
	return math.Pow(truthRaw, Gamma(s))
}

// Candidate is one claim in a bucket, already scored by the Scorer, as
// seen by the Display Calibrator.
type Candidate struct {
	ClaimID            uuid.UUID
	Value              model.TypedValue
	TruthRaw           float64
	IndependentSources int
	ContradictionScore float64
	SupportScore       float64
}

// RankedCandidate is one candidate after truth_display has been computed,
// ordered by descending truth_display.
type RankedCandidate struct {
	Candidate
	TruthDisplay float64
	PassesGates  bool
}

// View is the full response for one bucket at one slider position
// (spec.md §4.9: "always returns the full list... best_answer populated
// only when gates and tie-margin are satisfied").
type View struct {
	Candidates []RankedCandidate
	BestAnswer *RankedCandidate
	Verdict    Verdict
}

// Evaluate ranks candidates by truth_display at slider s, determines gate
// passage, and selects best_answer and the overall verdict (spec.md §4.9).
func Evaluate(candidates []Candidate, s float64) View {
	g := gatesAt(s)

	ranked := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		td := TruthDisplay(c.TruthRaw, s)
		ranked[i] = RankedCandidate{
			Candidate:    c,
			TruthDisplay: td,
			PassesGates: td >= g.minTruthDisplay &&
				float64(c.IndependentSources) >= g.minIndependent &&
				c.ContradictionScore <= g.maxContradiction,
		}
	}
	sortByTruthDisplayDesc(ranked)

	view := View{Candidates: ranked}
	if len(ranked) == 0 {
		view.Verdict = VerdictUnknown
		return view
	}

	top := ranked[0]
	view.Verdict = verdictFor(top, g)

	if top.PassesGates {
		tieOK := true
		if len(ranked) > 1 {
			tieOK = top.TruthDisplay-ranked[1].TruthDisplay >= g.tieMargin
		}
		if tieOK {
			chosen := top
			view.BestAnswer = &chosen
		}
	}
	return view
}

// verdictFor implements spec.md §4.9's decision tree for the top-ranked
// candidate.
func verdictFor(top RankedCandidate, g gates) Verdict {
	if top.IndependentSources < 1 {
		return VerdictInsufficient
	}
	if top.ContradictionScore > g.maxContradiction {
		return VerdictDisputed
	}
	if top.TruthDisplay >= g.minTruthDisplay && float64(top.IndependentSources) >= g.minIndependent {
		if top.TruthDisplay >= 0.9 && top.IndependentSources >= 2 {
			return VerdictVerified
		}
		return VerdictSupported
	}
	if top.TruthDisplay < 0.3 {
		return VerdictInsufficient
	}
	return VerdictDisputed
}

func sortByTruthDisplayDesc(rs []RankedCandidate) {
	// Insertion sort: bucket sizes are small (conflicting claims for one
	// entity/attribute/scope), and stability keeps ties in input order.
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].TruthDisplay > rs[j-1].TruthDisplay; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}

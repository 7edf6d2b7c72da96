// Package scoring implements the Scorer (spec.md §4.8, C8): it turns a
// claim's evidence into a deterministic, reproducible TruthMetrics row.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/storage"
)

// recencyHalfLifeDays is the half-life used by the recency decay curve
// (spec.md §4.8: half-life 2 years).
const recencyHalfLifeDays = 730.0

// recencyFloor is the minimum recency score a claim's evidence can carry,
// regardless of age (spec.md §4.8).
const recencyFloor = 0.3

// regularizationK is the Bayesian-style smoothing constant in truth_raw's
// denominator (spec.md §4.8), preventing a single unopposed claim from
// scoring a bare 1.0.
const regularizationK = 0.5

// lowQualityCapFraction is the ceiling low-quality evidence weight may
// contribute to support_score, as a fraction of the post-cap total
// (spec.md §3.2, §4.8).
const lowQualityCapFraction = 0.30

// EvidenceInput bundles one evidence row with the source/document facts
// needed to weigh it — the Scorer never re-derives these from IDs, so it
// stays a pure function over explicit inputs.
type EvidenceInput struct {
	Evidence   model.Evidence
	SourceID   uuid.UUID
	ClusterID  string // independence_cluster_id, or the source's own ID string if singleton
	BaseTrust  float64
	DocType    model.DocType
	Superseded bool
	PublishedAt *time.Time
}

// weighted is one evidence row after recency/weight computation, before
// independence correction.
type weighted struct {
	input      EvidenceInput
	recency    float64
	rawWeight  float64 // base_trust * doc_type_mult * extraction_confidence * recency
}

// recency implements spec.md §4.8's decay curve.
func recency(publishedAt *time.Time, now time.Time, superseded bool) float64 {
	var r float64
	if publishedAt == nil {
		r = recencyFloor
	} else {
		days := now.Sub(*publishedAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		r = math.Max(recencyFloor, math.Pow(0.5, days/recencyHalfLifeDays))
	}
	if superseded {
		r *= 0.5
	}
	return r
}

// correctedWeights applies the independence-cluster discount (spec.md
// §4.8): within a cluster sorted by descending raw weight, the k-th
// (1-indexed) weight is scaled by 1.0, 0.5, or 0.25 for k=1,2,>=3.
func correctedWeights(rows []weighted) []float64 {
	byCluster := make(map[string][]int) // cluster id -> indices into rows
	for i, w := range rows {
		byCluster[w.input.ClusterID] = append(byCluster[w.input.ClusterID], i)
	}
	out := make([]float64, len(rows))
	for _, idxs := range byCluster {
		sort.Slice(idxs, func(a, b int) bool {
			return rows[idxs[a]].rawWeight > rows[idxs[b]].rawWeight
		})
		for k, idx := range idxs {
			factor := 0.25
			switch k {
			case 0:
				factor = 1.0
			case 1:
				factor = 0.5
			}
			out[idx] = rows[idx].rawWeight * factor
		}
	}
	return out
}

// Result is the Scorer's deterministic output for one claim, ready to
// persist as a model.TruthMetrics row.
type Result struct {
	Metrics model.TruthMetrics
}

// Score computes TruthMetrics for a claim from its evidence inputs
// (spec.md §4.8). now is passed explicitly so the function stays pure and
// reproducible in tests.
func Score(claimID uuid.UUID, evs []EvidenceInput, now time.Time) Result {
	rows := make([]weighted, len(evs))
	for i, e := range evs {
		r := recency(e.PublishedAt, now, e.Superseded)
		w := e.BaseTrust * e.DocType.Multiplier() * e.Evidence.Confidence * r
		rows[i] = weighted{input: e, recency: r, rawWeight: w}
	}
	corrected := correctedWeights(rows)

	clusterFactors := map[string]*model.ClusterFactor{}
	docTypeMultUsed := map[string]float64{}

	var supportRows, contradictRows []int
	for i, w := range rows {
		docTypeMultUsed[string(w.input.DocType)] = w.input.DocType.Multiplier()
		switch w.input.Evidence.Stance {
		case model.StanceSupport:
			supportRows = append(supportRows, i)
		case model.StanceContradict:
			contradictRows = append(contradictRows, i)
		}
	}

	// Low-quality cap: scale low-quality support contributions down so
	// their sum equals exactly 30% of the post-cap support total
	// (spec.md §4.8).
	var lowQualitySum, totalSupportSum float64
	for _, i := range supportRows {
		totalSupportSum += corrected[i]
		if rows[i].input.DocType.IsLowQuality() {
			lowQualitySum += corrected[i]
		}
	}

	var capsApplied []string
	if totalSupportSum > 0 {
		cap := lowQualityCapFraction * totalSupportSum
		if lowQualitySum > cap && lowQualitySum > 0 {
			// Solve for the post-cap total T such that scaled low-quality
			// sum == 0.30*T, where T = (totalSupportSum - lowQualitySum) + 0.30*T.
			highQualitySum := totalSupportSum - lowQualitySum
			postCapTotal := highQualitySum / (1 - lowQualityCapFraction)
			targetLowQuality := lowQualityCapFraction * postCapTotal
			scale := targetLowQuality / lowQualitySum
			for _, i := range supportRows {
				if rows[i].input.DocType.IsLowQuality() {
					corrected[i] *= scale
				}
			}
			capsApplied = append(capsApplied, "low_quality_30pct")
		}
	}

	var supportScore, contradictionScore float64
	supportClusters := map[string]bool{}
	for _, i := range supportRows {
		supportScore += corrected[i]
		supportClusters[rows[i].input.ClusterID] = true
		cf := clusterFactors[rows[i].input.ClusterID]
		if cf == nil {
			cf = &model.ClusterFactor{ClusterID: rows[i].input.ClusterID}
			clusterFactors[rows[i].input.ClusterID] = cf
		}
		cf.Count++
		cf.Weight += corrected[i]
	}
	for _, i := range contradictRows {
		contradictionScore += corrected[i]
		cf := clusterFactors[rows[i].input.ClusterID]
		if cf == nil {
			cf = &model.ClusterFactor{ClusterID: rows[i].input.ClusterID}
			clusterFactors[rows[i].input.ClusterID] = cf
		}
		cf.Count++
		cf.Weight += corrected[i]
	}

	independentSources := len(supportClusters)
	truthRaw := supportScore / (supportScore + contradictionScore + regularizationK)

	top := topContributors(rows, corrected, 5)

	clusters := make([]model.ClusterFactor, 0, len(clusterFactors))
	for _, cf := range clusterFactors {
		clusters = append(clusters, *cf)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })

	var avgRecency float64
	if len(rows) > 0 {
		var sum float64
		for _, w := range rows {
			sum += w.recency
		}
		avgRecency = sum / float64(len(rows))
	}

	return Result{Metrics: model.TruthMetrics{
		ClaimID:            claimID,
		TruthRaw:           truthRaw,
		SupportScore:       supportScore,
		ContradictionScore: contradictionScore,
		IndependentSources: independentSources,
		RecencyScore:       avgRecency,
		Factors: model.ScoringFactors{
			Clusters:        clusters,
			TopContributors: top,
			DocTypeMultUsed: docTypeMultUsed,
			CapsApplied:     capsApplied,
		},
		ComputedAt: now,
	}}
}

// topContributors picks the n highest-weighted evidence rows (by
// corrected weight) for the factors object's audit trail (spec.md §4.8).
func topContributors(rows []weighted, corrected []float64, n int) []model.TopContributor {
	type idxWeight struct {
		idx    int
		weight float64
	}
	ranked := make([]idxWeight, len(rows))
	for i := range rows {
		ranked[i] = idxWeight{idx: i, weight: corrected[i]}
	}
	sort.Slice(ranked, func(a, b int) bool { return ranked[a].weight > ranked[b].weight })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]model.TopContributor, len(ranked))
	for i, r := range ranked {
		out[i] = model.TopContributor{
			EvidenceID: rows[r.idx].input.Evidence.ID,
			Weight:     r.weight,
			SourceID:   rows[r.idx].input.SourceID,
			DocType:    rows[r.idx].input.DocType,
		}
	}
	return out
}

// Scorer wires Score to storage: it loads a claim's evidence plus the
// backing sources/documents, computes TruthMetrics, and persists it,
// always replacing any prior row for the claim (spec.md §4.8).
type Scorer struct {
	db *storage.DB
}

// New builds a Scorer bound to a storage handle.
func New(db *storage.DB) *Scorer {
	return &Scorer{db: db}
}

// ScoreClaim computes and persists TruthMetrics for one claim.
func (s *Scorer) ScoreClaim(ctx context.Context, claimID uuid.UUID, now time.Time) (model.TruthMetrics, error) {
	evs, err := s.db.GetEvidenceByClaim(ctx, claimID)
	if err != nil {
		return model.TruthMetrics{}, fmt.Errorf("scoring: load evidence for claim %s: %w", claimID, err)
	}

	inputs, err := s.buildInputs(ctx, evs)
	if err != nil {
		return model.TruthMetrics{}, fmt.Errorf("scoring: build inputs for claim %s: %w", claimID, err)
	}

	result := Score(claimID, inputs, now)

	saved, err := s.db.UpsertTruthMetrics(ctx, result.Metrics)
	if err != nil {
		return model.TruthMetrics{}, fmt.Errorf("scoring: persist claim %s: %w", claimID, err)
	}
	return saved, nil
}

// buildInputs hydrates each evidence row's snippet/document/source chain
// into the facts Score needs (base_trust, doc_type, published_at,
// superseded, cluster id).
func (s *Scorer) buildInputs(ctx context.Context, evs []model.Evidence) ([]EvidenceInput, error) {
	out := make([]EvidenceInput, 0, len(evs))
	for _, ev := range evs {
		snip, err := s.db.GetSnippet(ctx, ev.SnippetID)
		if err != nil {
			return nil, fmt.Errorf("load snippet %s: %w", ev.SnippetID, err)
		}
		doc, err := s.db.GetDocument(ctx, snip.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", snip.DocumentID, err)
		}
		src, err := s.db.GetSource(ctx, doc.SourceID)
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", doc.SourceID, err)
		}
		clusterID := src.ID.String()
		if src.IndependenceClusterID != nil && *src.IndependenceClusterID != "" {
			clusterID = *src.IndependenceClusterID
		}
		superseded, err := s.db.IsSuperseded(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("check superseded for document %s: %w", doc.ID, err)
		}
		out = append(out, EvidenceInput{
			Evidence:    ev,
			SourceID:    src.ID,
			ClusterID:   clusterID,
			BaseTrust:   src.BaseTrust,
			DocType:     doc.DocType,
			Superseded:  superseded,
			PublishedAt: doc.PublishedAt,
		})
	}
	return out, nil
}

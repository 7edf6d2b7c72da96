package model

import (
	"time"

	"github.com/google/uuid"
)

// ClusterFactor records the per-cluster evidence count and combined weight
// contributed to a claim's scoring, for TruthMetrics.Factors.
type ClusterFactor struct {
	ClusterID string  `json:"cluster_id"`
	Count     int     `json:"count"`
	Weight    float64 `json:"weight"`
}

// TopContributor names one evidence row among the highest-weighted inputs
// to a claim's score (spec.md §4.8).
type TopContributor struct {
	EvidenceID uuid.UUID `json:"evidence_id"`
	Weight     float64   `json:"weight"`
	SourceID   uuid.UUID `json:"source_id"`
	DocType    DocType   `json:"doc_type"`
}

// ScoringFactors is the deterministic breakdown behind a TruthMetrics row
// (spec.md §4.8), kept so re-running the Scorer is auditable and so the
// "bit-identical" reproducibility invariant (spec.md §3.3 item 6) can be
// checked by a test.
type ScoringFactors struct {
	Clusters         []ClusterFactor    `json:"clusters"`
	TopContributors  []TopContributor   `json:"top_contributors"`
	DocTypeMultUsed  map[string]float64 `json:"doc_type_multipliers_used"`
	CapsApplied      []string           `json:"caps_applied"`
}

// TruthMetrics is the per-claim scoring output of the Scorer (C8) (spec.md §3).
type TruthMetrics struct {
	ClaimID             uuid.UUID      `json:"claim_id"`
	TruthRaw            float64        `json:"truth_raw"`
	SupportScore        float64        `json:"support_score"`
	ContradictionScore  float64        `json:"contradiction_score"`
	IndependentSources  int            `json:"independent_sources"`
	RecencyScore        float64        `json:"recency_score"`
	Factors             ScoringFactors `json:"factors"`
	ComputedAt          time.Time      `json:"computed_at"`
}

// RunState enumerates a SyncRun's lifecycle (spec.md §3, §4.11).
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSuccess   RunState = "success"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// JobType enumerates the Orchestrator's job kinds (spec.md §4.11).
type JobType string

const (
	JobIngest    JobType = "ingest"
	JobExtract   JobType = "extract"
	JobDerive    JobType = "derive"
	JobScore     JobType = "score"
	JobIntegrity JobType = "integrity"
)

// Progress is the {current, total, message} counter a running job reports
// (spec.md §4.11). Current is monotonically non-decreasing for a given run.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// SyncRun is one row per pipeline job execution (spec.md §3).
type SyncRun struct {
	ID            uuid.UUID  `json:"id"`
	JobType       JobType    `json:"job_type"`
	State         RunState   `json:"state"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Processed     int        `json:"records_processed"`
	Progress      Progress   `json:"progress"`
	Error         *string    `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id"`
	// MerkleRoot is the integrity stage's batch-proof root over every claim
	// in the ledger as of this run, populated only for JobIntegrity runs.
	MerkleRoot       *string `json:"merkle_root,omitempty"`
	MerkleClaimCount int     `json:"merkle_claim_count,omitempty"`
}

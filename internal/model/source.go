// Package model holds the Truth Ledger's data-model types: the structs
// shared by the storage, extraction, conflict, scoring, and display
// layers. Types here carry no behavior beyond small invariant helpers —
// the components in internal/* own the logic.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceType enumerates publisher trust classes (spec.md §3, §3.1).
type SourceType string

const (
	SourceRegulator       SourceType = "regulator"
	SourceStandardsBody   SourceType = "standards_body"
	SourceGovernmentAgncy SourceType = "government_agency"
	SourceManufacturer    SourceType = "manufacturer"
	SourcePeerReviewed    SourceType = "peer_reviewed"
	SourceResearch        SourceType = "research"
	SourceNews            SourceType = "news"
	SourceBlog            SourceType = "blog"
	SourceWiki            SourceType = "wiki"
	SourceForum           SourceType = "forum"
	SourceSocialMedia     SourceType = "social_media"
	SourceOther           SourceType = "other"
)

// Source is a publisher identity. Identity and source-type are immutable
// once registered; BaseTrust may change over time but past TruthMetrics
// rows keep the weights they were computed with (spec.md §3).
type Source struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Type                 SourceType `json:"type"`
	BaseTrust            float64    `json:"base_trust"`
	IndependenceClusterID *string   `json:"independence_cluster_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// TrustChange is an append-only record of a Source.BaseTrust edit, so that
// "scores carry the weights they saw" (spec.md §3) is auditable rather
// than merely asserted.
type TrustChange struct {
	ID        uuid.UUID `json:"id"`
	SourceID  uuid.UUID `json:"source_id"`
	OldTrust  float64   `json:"old_trust"`
	NewTrust  float64   `json:"new_trust"`
	ChangedAt time.Time `json:"changed_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Package integrity implements the Integrity Checker (spec.md §4.10,
// C10): ten periodic consistency checks over the ledger's tables, three
// targeted repair operations, and a Merkle batch-proof over the ledger's
// claims as of an integrity run, so a later root can show whether any
// claim was altered since.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/hashing"
	"github.com/truthledger/ledger/internal/storage"
)

// Severity enumerates a violation's urgency (spec.md §4.10).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Check names one of the ten checks spec.md §4.10 defines, for grouping
// and for repair dispatch.
type Check string

const (
	CheckClaimsWithoutEvidence      Check = "claims_without_evidence"
	CheckClaimsWithoutTruthMetrics  Check = "claims_without_truth_metrics"
	CheckEvidenceBrokenChain        Check = "evidence_broken_chain"
	CheckSnippetsStaleNoEvidence    Check = "snippets_stale_no_evidence"
	CheckDocumentsStaleNoSnippets   Check = "documents_stale_no_snippets"
	CheckConflictGroupCountMismatch Check = "conflict_group_count_mismatch"
	CheckFieldLinkMissingGroup      Check = "field_link_missing_group"
	CheckDerivedClaimMissingSource  Check = "derived_claim_missing_source"
	CheckClaimScopeMismatch         Check = "claim_scope_mismatch"
	CheckDuplicateClaims            Check = "duplicate_claims"
)

// staleAfterDays is the age threshold checks 4 and 5 use (spec.md §4.10:
// "older than 7 days").
const staleAfterDays = 7

// Violation is one finding from a single check, identifying the offending
// row(s) by ID.
type Violation struct {
	Check       Check
	Severity    Severity
	Description string
	SubjectIDs  []uuid.UUID
	Subject     string // human-readable key when the subject isn't a UUID (claim_key_hash)
}

// Checker runs the ten checks and their repairs against one storage handle.
type Checker struct {
	db *storage.DB
}

// New builds a Checker bound to a storage handle.
func New(db *storage.DB) *Checker {
	return &Checker{db: db}
}

// RunAll executes every check and returns every violation found, in the
// order spec.md §4.10 lists them.
func (c *Checker) RunAll(ctx context.Context) ([]Violation, error) {
	var out []Violation

	if ids, err := c.db.ClaimsWithoutEvidence(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 1: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckClaimsWithoutEvidence, SeverityCritical, "claims with no supporting evidence", ids, ""})
	}

	if ids, err := c.db.ClaimsWithoutTruthMetrics(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 2: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckClaimsWithoutTruthMetrics, SeverityWarning, "claims never scored", ids, ""})
	}

	if ids, err := c.db.EvidenceWithBrokenChain(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 3: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckEvidenceBrokenChain, SeverityCritical, "evidence with a broken snippet/document/source chain", ids, ""})
	}

	if ids, err := c.db.SnippetsStaleWithoutEvidence(ctx, staleAfterDays); err != nil {
		return nil, fmt.Errorf("integrity: check 4: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckSnippetsStaleNoEvidence, SeverityInfo, "snippets older than 7 days with no evidence extracted", ids, ""})
	}

	if ids, err := c.db.DocumentsStaleWithoutSnippets(ctx, staleAfterDays); err != nil {
		return nil, fmt.Errorf("integrity: check 5: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckDocumentsStaleNoSnippets, SeverityInfo, "documents older than 7 days with no snippets", ids, ""})
	}

	if hashes, err := c.db.ConflictGroupCountMismatches(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 6: %w", err)
	} else {
		for _, h := range hashes {
			out = append(out, Violation{CheckConflictGroupCountMismatch, SeverityWarning, "stored claim_count disagrees with actual membership", nil, h})
		}
	}

	if ids, err := c.db.FieldLinksToMissingConflictGroup(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 7: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckFieldLinkMissingGroup, SeverityWarning, "field links pointing at a nonexistent conflict group", ids, ""})
	}

	if ids, err := c.db.DerivedClaimsWithMissingSource(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 8: %w", err)
	} else if len(ids) > 0 {
		out = append(out, Violation{CheckDerivedClaimMissingSource, SeverityWarning, "derived claims whose source claim is missing", ids, ""})
	}

	if pairs, err := c.db.ClaimScopeMismatches(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 9: %w", err)
	} else {
		var mismatched []uuid.UUID
		for _, p := range pairs {
			if !scopesEqual(hashing.NormalizeScope(p.ClaimScope), p.GroupScope) {
				mismatched = append(mismatched, p.ClaimID)
			}
		}
		if len(mismatched) > 0 {
			out = append(out, Violation{CheckClaimScopeMismatch, SeverityWarning, "claim scope disagrees with its conflict group's normalized scope", mismatched, ""})
		}
	}

	if groups, err := c.db.DuplicateClaims(ctx); err != nil {
		return nil, fmt.Errorf("integrity: check 10: %w", err)
	} else {
		for _, g := range groups {
			out = append(out, Violation{CheckDuplicateClaims, SeverityInfo, "exact duplicate claims in the same bucket", g, ""})
		}
	}

	return out, nil
}

// scopesEqual compares two normalized scope maps field by field. Values
// arrive from jsonb as map[string]any with JSON-native types (float64,
// string, bool), so equality is a shallow comparison of those.
func scopesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}

// RepairConflictGroupCounts recomputes claim_count for every bucket
// currently failing check 6.
func (c *Checker) RepairConflictGroupCounts(ctx context.Context) (int, error) {
	hashes, err := c.db.ConflictGroupCountMismatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("integrity: repair check 6: %w", err)
	}
	for _, h := range hashes {
		if err := c.db.RepairConflictGroupCount(ctx, h); err != nil {
			return 0, fmt.Errorf("integrity: repair bucket %s: %w", h, err)
		}
	}
	return len(hashes), nil
}

// RepairOrphanClaims deletes every claim currently failing check 1
// (no evidence at all).
func (c *Checker) RepairOrphanClaims(ctx context.Context) (int, error) {
	ids, err := c.db.ClaimsWithoutEvidence(ctx)
	if err != nil {
		return 0, fmt.Errorf("integrity: repair check 1: %w", err)
	}
	for _, id := range ids {
		if err := c.db.RepairDeleteOrphanClaim(ctx, id); err != nil {
			return 0, fmt.Errorf("integrity: delete orphan claim %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// RepairInvalidFieldLinks nulls out the claim_key_hash of every field
// link currently failing check 7.
func (c *Checker) RepairInvalidFieldLinks(ctx context.Context) (int, error) {
	ids, err := c.db.FieldLinksToMissingConflictGroup(ctx)
	if err != nil {
		return 0, fmt.Errorf("integrity: repair check 7: %w", err)
	}
	for _, id := range ids {
		if err := c.db.RepairNullFieldLinkTarget(ctx, id); err != nil {
			return 0, fmt.Errorf("integrity: null field link %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// hashPair produces SHA-256(0x01 || len(a) || a || b) as a hex string —
// the internal-node domain separator keeps internal hashes from colliding
// with leaf hashes (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	aBytes := []byte(a)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(aBytes)))
	h.Write(lenBuf[:])
	h.Write(aBytes)
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree over leaves (sorted by the
// caller for determinism) and returns the root. Odd-length levels hash
// the final node with itself for structural binding to its tree position.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	level := make([]string, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// claimLeaf hashes one claim's identity and current value into a Merkle
// leaf: sha256(claim_id || claim_key_hash || canonical_json(value)).
func claimLeaf(claimID uuid.UUID, claimKeyHash string, value any) string {
	cj, err := hashing.CanonicalJSON(value)
	if err != nil {
		var generic any
		if raw, jerr := json.Marshal(value); jerr == nil && json.Unmarshal(raw, &generic) == nil {
			cj, err = hashing.CanonicalJSON(generic)
		}
		if err != nil {
			cj = fmt.Sprintf("%v", value)
		}
	}
	sum := sha256.Sum256([]byte(claimID.String() + "|" + claimKeyHash + "|" + cj))
	return hex.EncodeToString(sum[:])
}

// BatchProof is a tamper-evidence record tagged with one sync run: the
// Merkle root over the claims it was computed from, so a later audit can
// recompute the root from current claim state and detect silent
// post-hoc edits outside the normal ingest/extract/derive pipeline.
type BatchProof struct {
	SyncRunID  uuid.UUID `json:"sync_run_id"`
	ClaimCount int       `json:"claim_count"`
	MerkleRoot string    `json:"merkle_root"`
	ComputedAt time.Time `json:"computed_at"`
}

// ClaimLeafInput is one claim's identity as of batch-proof computation.
type ClaimLeafInput struct {
	ClaimID      uuid.UUID
	ClaimKeyHash string
	Value        any
}

// ComputeBatchProof builds a BatchProof over the given claims, tagged with
// syncRunID. Leaves are sorted by claim ID before hashing so the root is
// independent of processing order (spec.md §9's determinism expectation,
// extended to this supplemented feature).
func ComputeBatchProof(syncRunID uuid.UUID, claims []ClaimLeafInput, now time.Time) BatchProof {
	sorted := make([]ClaimLeafInput, len(claims))
	copy(sorted, claims)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClaimID.String() < sorted[j].ClaimID.String() })

	leaves := make([]string, len(sorted))
	for i, c := range sorted {
		leaves[i] = claimLeaf(c.ClaimID, c.ClaimKeyHash, c.Value)
	}
	return BatchProof{
		SyncRunID:  syncRunID,
		ClaimCount: len(sorted),
		MerkleRoot: BuildMerkleRoot(leaves),
		ComputedAt: now,
	}
}

// BatchProof computes a tamper-evidence proof over the ledger's full claim
// set as of now, tagged with the run that produced it. The integrity job
// runs this at the end of every run and persists the result onto the
// SyncRun itself (storage.DB.RecordMerkleRoot) so a later audit can diff
// two runs' roots without recomputing from the claims table.
func (c *Checker) BatchProof(ctx context.Context, syncRunID uuid.UUID, now time.Time) (BatchProof, error) {
	claims, err := c.db.ListAllClaimIdentities(ctx)
	if err != nil {
		return BatchProof{}, fmt.Errorf("integrity: list claim identities: %w", err)
	}
	inputs := make([]ClaimLeafInput, len(claims))
	for i, ci := range claims {
		inputs[i] = ClaimLeafInput{ClaimID: ci.ID, ClaimKeyHash: ci.ClaimKeyHash, Value: ci.Value}
	}
	return ComputeBatchProof(syncRunID, inputs, now), nil
}

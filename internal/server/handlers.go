package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/display"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db      *storage.DB
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
	version string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(db *storage.DB, orch *orchestrator.Orchestrator, logger *slog.Logger, version string) *Handlers {
	return &Handlers{db: db, orch: orch, logger: logger, version: version}
}

// HandleHealth handles GET /health. It does not probe the database — a
// degraded database surfaces through run states, not the liveness check.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// truthSlider parses the truth_slider query parameter, defaulting to 0.5
// (spec.md §4.9) and clamping to [0, 1].
func truthSlider(r *http.Request) float64 {
	raw := r.URL.Query().Get("truth_slider")
	if raw == "" {
		return 0.5
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// factsResponse is the JSON shape returned for a bucket lookup: the full
// ranked candidate list plus whichever one (if any) cleared the slider's
// gates (spec.md §4.9).
type factsResponse struct {
	ClaimKeyHash string                    `json:"claim_key_hash"`
	TruthSlider  float64                   `json:"truth_slider"`
	Verdict      display.Verdict           `json:"verdict"`
	BestAnswer   *rankedCandidateResponse  `json:"best_answer"`
	Candidates   []rankedCandidateResponse `json:"candidates"`
}

type rankedCandidateResponse struct {
	ClaimID            uuid.UUID        `json:"claim_id"`
	Value              model.TypedValue `json:"value"`
	TruthDisplay       float64          `json:"truth_display"`
	TruthRaw           float64          `json:"truth_raw"`
	IndependentSources int              `json:"independent_sources"`
	ContradictionScore float64          `json:"contradiction_score"`
	SupportScore       float64          `json:"support_score"`
	PassesGates        bool             `json:"passes_gates"`
}

// HandleGetFacts handles GET /facts/{claim_key_hash}: the bucket's claims,
// scored and calibrated at the caller's truth_slider (spec.md §6, §4.9).
func (h *Handlers) HandleGetFacts(w http.ResponseWriter, r *http.Request) {
	claimKeyHash := r.PathValue("claim_key_hash")
	if claimKeyHash == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "claim_key_hash is required")
		return
	}

	resp, err := h.evaluateBucket(r, claimKeyHash)
	if err != nil {
		h.writeBucketError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleGetEntityField handles GET /entities/{entity_id}/field/{field}, the
// legacy-column shortcut that resolves via a FieldLink to a bucket
// (spec.md §3, §6).
func (h *Handlers) HandleGetEntityField(w http.ResponseWriter, r *http.Request) {
	entityIDRaw := r.PathValue("entity_id")
	field := r.PathValue("field")
	entityID, err := uuid.Parse(entityIDRaw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "entity_id must be a UUID")
		return
	}
	if field == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "field is required")
		return
	}

	link, err := h.db.GetFieldLink(r.Context(), entityID, field)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no field link for this entity and field")
			return
		}
		h.writeInternalError(w, r, "failed to resolve field link", err)
		return
	}
	if link.ClaimKeyHash == nil {
		// Check 7's repair nulled this out: the bucket it used to point to
		// no longer exists.
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "field link no longer resolves to a conflict group")
		return
	}

	resp, err := h.evaluateBucket(r, *link.ClaimKeyHash)
	if err != nil {
		h.writeBucketError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// evaluateBucket loads a bucket's claims and their scores and runs them
// through the Display Calibrator at the request's slider position.
func (h *Handlers) evaluateBucket(r *http.Request, claimKeyHash string) (factsResponse, error) {
	ctx := r.Context()
	slider := truthSlider(r)

	group, err := h.db.GetConflictGroup(ctx, claimKeyHash)
	if err != nil {
		return factsResponse{}, err
	}

	claims, err := h.db.GetClaimsByKeyHash(ctx, claimKeyHash)
	if err != nil {
		return factsResponse{}, err
	}

	claimIDs := make([]uuid.UUID, len(claims))
	for i, c := range claims {
		claimIDs[i] = c.ID
	}
	metricsByClaim, err := h.db.GetTruthMetricsByClaims(ctx, claimIDs)
	if err != nil {
		return factsResponse{}, err
	}

	candidates := make([]display.Candidate, 0, len(claims))
	for _, c := range claims {
		m, ok := metricsByClaim[c.ID]
		if !ok {
			// Not yet scored; omit rather than fabricate a score that
			// would look authoritative.
			continue
		}
		candidates = append(candidates, display.Candidate{
			ClaimID:            c.ID,
			Value:              c.Value,
			TruthRaw:           m.TruthRaw,
			IndependentSources: m.IndependentSources,
			ContradictionScore: m.ContradictionScore,
			SupportScore:       m.SupportScore,
		})
	}

	view := display.Evaluate(candidates, slider)

	resp := factsResponse{
		ClaimKeyHash: group.ClaimKeyHash,
		TruthSlider:  slider,
		Verdict:      view.Verdict,
		Candidates:   make([]rankedCandidateResponse, len(view.Candidates)),
	}
	for i, rc := range view.Candidates {
		resp.Candidates[i] = toRankedCandidateResponse(rc)
	}
	if view.BestAnswer != nil {
		best := toRankedCandidateResponse(*view.BestAnswer)
		resp.BestAnswer = &best
	}
	return resp, nil
}

func toRankedCandidateResponse(rc display.RankedCandidate) rankedCandidateResponse {
	return rankedCandidateResponse{
		ClaimID:            rc.ClaimID,
		Value:              rc.Value,
		TruthDisplay:       rc.TruthDisplay,
		TruthRaw:           rc.TruthRaw,
		IndependentSources: rc.IndependentSources,
		ContradictionScore: rc.ContradictionScore,
		SupportScore:       rc.SupportScore,
		PassesGates:        rc.PassesGates,
	}
}

func (h *Handlers) writeBucketError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no conflict group for this claim key hash")
		return
	}
	h.writeInternalError(w, r, "failed to evaluate bucket", err)
}

// runJobRequest is the optional body for POST /pipeline/jobs/{job_type}/run.
type runJobRequest struct {
	CorrelationID string `json:"correlation_id"`
}

var validJobTypes = map[string]model.JobType{
	string(model.JobIngest):    model.JobIngest,
	string(model.JobExtract):   model.JobExtract,
	string(model.JobDerive):    model.JobDerive,
	string(model.JobScore):     model.JobScore,
	string(model.JobIntegrity): model.JobIntegrity,
}

// HandleRunJob handles POST /pipeline/jobs/{job_type}/run: starts a run,
// refusing a second concurrent run of the same job type (spec.md §5, §6).
func (h *Handlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	jobTypeRaw := r.PathValue("job_type")
	jobType, ok := validJobTypes[jobTypeRaw]
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown job_type: "+jobTypeRaw)
		return
	}

	var req runJobRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req, 64*1024); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body")
			return
		}
	}
	if req.CorrelationID == "" {
		req.CorrelationID = RequestIDFromContext(r.Context())
	}

	run, err := h.orch.Start(r.Context(), jobType, req.CorrelationID)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a run of this job type is already active")
			return
		}
		h.writeInternalError(w, r, "failed to start job", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, run)
}

// HandleCancelJob handles POST /pipeline/jobs/{run_id}/cancel: requests
// cooperative cancellation of an in-flight run (spec.md §4.11, §6).
func (h *Handlers) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id must be a UUID")
		return
	}
	if !h.orch.Cancel(runID) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no active run with this id")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// HandleGetJob handles GET /pipeline/jobs/{run_id}: the run's current
// state and progress counter (spec.md §4.11, §6).
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id must be a UUID")
		return
	}
	run, err := h.db.GetSyncRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no run with this id")
			return
		}
		h.writeInternalError(w, r, "failed to fetch run", err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

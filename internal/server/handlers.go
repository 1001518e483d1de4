package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/citestack/citestack-worker/internal/extract"
	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
	"github.com/citestack/citestack-worker/internal/service"
)

// maxUploadBytes bounds file captures (multipart memory + body)
const maxUploadBytes = 25 << 20 // 25 MB

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCaptureURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL          string  `json:"url"`
		CollectionID *string `json:"collection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := s.capture.CaptureURL(r.Context(), userID(r), req.URL, req.CollectionID)
	if err != nil {
		respondCaptureError(w, err)
		return
	}
	respondJSON(w, captureStatus(result), toCaptureResponse(result))
}

func (s *Server) handleCapturePaste(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text         string  `json:"text"`
		Title        *string `json:"title"`
		CollectionID *string `json:"collection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.capture.CapturePaste(r.Context(), userID(r), req.Text, req.Title, req.CollectionID)
	if err != nil {
		respondCaptureError(w, err)
		return
	}
	respondJSON(w, captureStatus(result), toCaptureResponse(result))
}

func (s *Server) handleCaptureFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	var collectionID *string
	if v := r.FormValue("collection_id"); v != "" {
		collectionID = &v
	}

	result, err := s.capture.CaptureFile(r.Context(), userID(r), header.Filename, mimeType, data, collectionID)
	if err != nil {
		var unsupported *extract.ErrUnsupportedType
		if errors.As(err, &unsupported) {
			respondError(w, http.StatusUnsupportedMediaType, unsupported.Error())
			return
		}
		respondCaptureError(w, err)
		return
	}
	respondJSON(w, captureStatus(result), toCaptureResponse(result))
}

// captureStatus: a fresh item is a 201, a dedup hit a 200
func captureStatus(result *service.CaptureResult) int {
	if result.Deduped {
		return http.StatusOK
	}
	return http.StatusCreated
}

// respondCaptureError maps a capture failure: a request the service
// rejected is the client's fault, a store or queue failure is ours.
func respondCaptureError(w http.ResponseWriter, err error) {
	var invalid *service.ValidationError
	if errors.As(err, &invalid) {
		respondError(w, http.StatusBadRequest, invalid.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.items.GetOwned(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			respondError(w, http.StatusNotFound, "item not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toItemResponse(item))
}

func (s *Server) handleReEnrich(w http.ResponseWriter, r *http.Request) {
	result, err := s.capture.ReEnrich(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			respondError(w, http.StatusNotFound, "item not found")
			return
		}
		respondCaptureError(w, err)
		return
	}
	if result.CreditShortfall != nil {
		respondShortfall(w, result.CreditShortfall)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": result.JobID})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comparison, shortfall, err := s.capture.Compare(r.Context(), userID(r), req.ItemIDs)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			respondError(w, http.StatusNotFound, "item not found")
			return
		}
		respondCaptureError(w, err)
		return
	}
	if shortfall != nil {
		respondShortfall(w, shortfall)
		return
	}
	respondJSON(w, http.StatusAccepted, toComparisonResponse(comparison))
}

func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	comparison, err := s.comparisons.GetOwned(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrComparisonNotFound) {
			respondError(w, http.StatusNotFound, "comparison not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toComparisonResponse(comparison))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Jobs are fetched by ID, so ownership is checked here
	if job.UserID != userID(r) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(*job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	jobs, err := s.jobs.ListRecent(r.Context(), userID(r), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}

func (s *Server) handleAccountUsage(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	balance, err := s.credits.GetBalance(r.Context(), user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ledger, err := s.credits.ListLedger(r.Context(), user, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]ledgerEntryResponse, 0, len(ledger))
	for _, e := range ledger {
		entries = append(entries, ledgerEntryResponse{
			ID:           e.ID,
			Delta:        e.Delta,
			Reason:       e.Reason,
			JobID:        e.JobID,
			ItemID:       e.ItemID,
			ComparisonID: e.ComparisonID,
			CreatedAt:    e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance":       balance.Balance,
		"monthly_grant": balance.MonthlyGrant,
		"plan":          balance.Plan,
		"reset_at":      balance.ResetAt,
		"ledger":        entries,
	})
}

func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.RunOnce(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ran"})
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Amount <= 0 {
		respondError(w, http.StatusBadRequest, "user_id and a positive amount are required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonAdminGrant
	}
	if reason != models.ReasonAdminGrant && reason != models.ReasonCreditPack {
		respondError(w, http.StatusBadRequest, "reason must be admin_grant or credit_pack")
		return
	}

	if err := s.credits.Grant(r.Context(), req.UserID, req.Amount, reason, repository.EntryRefs{}); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("Granted %d credits to user %s (%s)", req.Amount, req.UserID, reason)
	respondJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

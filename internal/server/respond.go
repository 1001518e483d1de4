package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/citestack/citestack-worker/internal/models"
	"github.com/citestack/citestack-worker/internal/repository"
	"github.com/citestack/citestack-worker/internal/service"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondShortfall is the 402 returned when an operation costs more
// credits than the user has left this month.
func respondShortfall(w http.ResponseWriter, shortfall *repository.InsufficientCreditsError) {
	respondJSON(w, http.StatusPaymentRequired, map[string]interface{}{
		"error":    "insufficient credits",
		"required": shortfall.Required,
		"balance":  shortfall.Balance,
	})
}

// itemResponse is the JSON shape of an item. The raw text is omitted;
// clients fetch the cleaned text and enrichment outputs.
type itemResponse struct {
	ID               string            `json:"id"`
	SourceType       models.SourceType `json:"source_type"`
	Status           models.ItemStatus `json:"status"`
	URL              *string           `json:"url,omitempty"`
	Domain           *string           `json:"domain,omitempty"`
	Title            *string           `json:"title,omitempty"`
	OriginalFilename *string           `json:"original_filename,omitempty"`
	MimeType         *string           `json:"mime_type,omitempty"`
	CleanedText      *string           `json:"cleaned_text,omitempty"`
	Abstract         *string           `json:"abstract,omitempty"`
	Bullets          models.StringList `json:"bullets,omitempty"`
	Quotes           models.QuoteList  `json:"quotes,omitempty"`
	Tags             models.StringList `json:"tags,omitempty"`
	SuggestedTitle   *string           `json:"suggested_title,omitempty"`
	Error            *string           `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	ExtractedAt      *time.Time        `json:"extracted_at,omitempty"`
	EnrichedAt       *time.Time        `json:"enriched_at,omitempty"`
	LastSavedAt      time.Time         `json:"last_saved_at"`
}

func toItemResponse(item *models.Item) itemResponse {
	return itemResponse{
		ID:               item.ID,
		SourceType:       item.SourceType,
		Status:           item.Status,
		URL:              item.URL,
		Domain:           item.Domain,
		Title:            item.Title,
		OriginalFilename: item.OriginalFilename,
		MimeType:         item.MimeType,
		CleanedText:      item.CleanedText,
		Abstract:         item.Abstract,
		Bullets:          item.Bullets,
		Quotes:           item.Quotes,
		Tags:             item.Tags,
		SuggestedTitle:   item.SuggestedTitle,
		Error:            item.Error,
		CreatedAt:        item.CreatedAt,
		ExtractedAt:      item.ExtractedAt,
		EnrichedAt:       item.EnrichedAt,
		LastSavedAt:      item.LastSavedAt,
	}
}

// captureResponse is the synchronous reply to a capture request
type captureResponse struct {
	Item            itemResponse `json:"item"`
	Deduped         bool         `json:"deduped"`
	JobID           string       `json:"job_id,omitempty"`
	CreditShortfall interface{}  `json:"credit_shortfall,omitempty"`
}

func toCaptureResponse(result *service.CaptureResult) captureResponse {
	resp := captureResponse{
		Item:    toItemResponse(result.Item),
		Deduped: result.Deduped,
		JobID:   result.JobID,
	}
	if result.CreditShortfall != nil {
		resp.CreditShortfall = map[string]int64{
			"required": result.CreditShortfall.Required,
			"balance":  result.CreditShortfall.Balance,
		}
	}
	return resp
}

// jobResponse is the JSON shape of a queued job
type jobResponse struct {
	ID         string           `json:"id"`
	ItemID     *string          `json:"item_id,omitempty"`
	Type       models.JobType   `json:"type"`
	Status     models.JobStatus `json:"status"`
	Result     models.JSONB     `json:"result,omitempty"`
	Error      *string          `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

func toJobResponse(job models.Job) jobResponse {
	return jobResponse{
		ID:         job.ID,
		ItemID:     job.ItemID,
		Type:       job.Type,
		Status:     job.Status,
		Result:     job.Result,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// comparisonResponse is the JSON shape of a comparison
type comparisonResponse struct {
	ID        string                  `json:"id"`
	ItemIDs   models.StringList       `json:"item_ids"`
	Status    models.ComparisonStatus `json:"status"`
	Result    models.JSONB            `json:"result,omitempty"`
	Error     *string                 `json:"error,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

func toComparisonResponse(c *models.Comparison) comparisonResponse {
	return comparisonResponse{
		ID:        c.ID,
		ItemIDs:   c.ItemIDs,
		Status:    c.Status,
		Result:    c.Result,
		Error:     c.Error,
		CreatedAt: c.CreatedAt,
	}
}

// ledgerEntryResponse is one accounting record in the usage view
type ledgerEntryResponse struct {
	ID           string    `json:"id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	JobID        *string   `json:"job_id,omitempty"`
	ItemID       *string   `json:"item_id,omitempty"`
	ComparisonID *string   `json:"comparison_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

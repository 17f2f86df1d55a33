// Package trigger is the inbound HTTP surface: a crawl trigger endpoint and a
// liveness probe. Crawls run synchronously inside the request so the caller
// gets the full pass summary back.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pricewatch/packages/domain"
)

// Crawler is the slice of the coordinator the handler needs.
type Crawler interface {
	Crawl(ctx context.Context, siteIDs []string) domain.CrawlSummary
}

type Handler struct {
	crawler Crawler
	now     func() time.Time
}

func NewHandler(crawler Crawler) *Handler {
	return &Handler{crawler: crawler, now: time.Now}
}

// Mux returns the full request router for the service.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl", h.handleCrawl)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

func (h *Handler) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, domain.TriggerResponse{
			Error: "method not allowed",
		})
		return
	}

	var req domain.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.TriggerResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	jobID := fmt.Sprintf("job_%d", h.now().UnixNano())
	slog.Info("Crawl triggered",
		"jobId", jobID,
		"requestId", req.RequestID,
		"type", req.TriggerType,
		"sites", len(req.Sites),
		"userId", req.UserID)

	start := h.now()
	summary := h.crawler.Crawl(r.Context(), req.Sites)
	elapsed := h.now().Sub(start)

	slog.Info("Crawl finished",
		"jobId", jobID,
		"duration", elapsed.String(),
		"sites", summary.SitesProcessed,
		"products", summary.TotalProducts,
		"errors", len(summary.Errors))

	writeJSON(w, http.StatusOK, domain.TriggerResponse{
		Success:    true,
		JobID:      jobID,
		RequestID:  req.RequestID,
		DurationMs: elapsed.Milliseconds(),
		Results:    &summary,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

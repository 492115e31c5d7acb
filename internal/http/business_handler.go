package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cityv-crowd/internal/aggregator"
	"cityv-crowd/internal/models"
	"cityv-crowd/internal/report"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// defaultDailyDays days listed when the daily range is omitted
const defaultDailyDays = 7

// SummaryService implemented by aggregator.Aggregator
type SummaryService interface {
	GetBusinessSummary(ctx context.Context, businessID string, from, to time.Time) (*models.BusinessSummary, error)
	ListDailySummaries(ctx context.Context, businessID, fromDate, toDate string) ([]models.DailySummary, error)
	RollupDaily(ctx context.Context, businessID, date string) (*models.DailySummary, error)
	Today() string
	Location() *time.Location
}

// BusinessHandler business level queries
type BusinessHandler struct {
	summaries SummaryService
	logger    *zap.Logger
}

func NewBusinessHandler(summaries SummaryService, logger *zap.Logger) *BusinessHandler {
	return &BusinessHandler{summaries: summaries, logger: logger}
}

// Summary GET /businesses/{businessID}/summary?from&to
func (h *BusinessHandler) Summary(w http.ResponseWriter, r *http.Request) {
	loc := h.summaries.Location()
	from, err := parseTimeParam("from", r.URL.Query().Get("from"), loc, false)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseTimeParam("to", r.URL.Query().Get("to"), loc, true)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	summary, err := h.summaries.GetBusinessSummary(r.Context(), chi.URLParam(r, "businessID"), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(summary))
}

// Daily GET /businesses/{businessID}/daily?from&to, the last week by default
func (h *BusinessHandler) Daily(w http.ResponseWriter, r *http.Request) {
	list, _, _, err := h.listDaily(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []models.DailySummary{}
	}
	writeJSON(w, http.StatusOK, Ok(list))
}

// Export GET /businesses/{businessID}/daily/export?from&to as XLSX
func (h *BusinessHandler) Export(w http.ResponseWriter, r *http.Request) {
	list, fromDate, toDate, err := h.listDaily(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data, err := report.GenerateDailyExport(list, h.summaries.Location())
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("failed to generate export: %w", err))
		return
	}

	filename := report.DailyFilename(chi.URLParam(r, "businessID"), fromDate, toDate)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Rollup POST /businesses/{businessID}/rollup?date, today by default. Idempotent.
func (h *BusinessHandler) Rollup(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.summaries.Today()
	}
	businessID := chi.URLParam(r, "businessID")

	summary, err := h.summaries.RollupDaily(r.Context(), businessID, date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("Rollup triggered over HTTP",
		zap.String("business_id", businessID),
		zap.String("summary_date", date),
		zap.String("request_id", RequestIDFrom(r.Context())),
	)
	writeJSON(w, http.StatusOK, Ok(summary))
}

func (h *BusinessHandler) listDaily(r *http.Request) ([]models.DailySummary, string, string, error) {
	toDate := r.URL.Query().Get("to")
	if toDate == "" {
		toDate = h.summaries.Today()
	}
	fromDate := r.URL.Query().Get("from")
	if fromDate == "" {
		end, err := time.Parse(aggregator.DateLayout, toDate)
		if err != nil {
			return nil, "", "", fmt.Errorf("%w: to must be YYYY-MM-DD", models.ErrInvalidInput)
		}
		fromDate = end.AddDate(0, 0, -(defaultDailyDays - 1)).Format(aggregator.DateLayout)
	}

	list, err := h.summaries.ListDailySummaries(r.Context(), chi.URLParam(r, "businessID"), fromDate, toDate)
	if err != nil {
		return nil, "", "", err
	}
	return list, fromDate, toDate, nil
}

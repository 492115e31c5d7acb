package httpapi

import (
	"context"
	"net/http"

	"cityv-crowd/internal/ingest"
	"cityv-crowd/internal/models"

	"go.uber.org/zap"
)

// Ingester implemented by ingest.Service
type Ingester interface {
	Ingest(ctx context.Context, in models.DetectionInput) (*ingest.Result, error)
}

// IngestResponse body of POST /api/v1/iot/detections
type IngestResponse struct {
	Success           bool              `json:"success"`
	RecordID          int64             `json:"recordId"`
	Duplicate         bool              `json:"duplicate"`
	CurrentOccupancy  int               `json:"currentOccupancy"`
	CrowdLevel        models.CrowdLevel `json:"crowdLevel"`
	CounterRegression bool              `json:"counterRegression"`
}

// IngestHandler direct device ingest over HTTP
type IngestHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

func NewIngestHandler(ingester Ingester, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{ingester: ingester, logger: logger}
}

// Create stores one detection; 201 when new, 200 when already stored
func (h *IngestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.DetectionInput
	if err := readBodyJSON(r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.ingester.Ingest(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, IngestResponse{
		Success:           true,
		RecordID:          res.Record.ID,
		Duplicate:         res.Duplicate,
		CurrentOccupancy:  res.Record.CurrentOccupancy,
		CrowdLevel:        res.Record.CrowdLevel,
		CounterRegression: res.Record.CounterRegression,
	})
}

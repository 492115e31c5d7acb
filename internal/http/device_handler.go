package httpapi

import (
	"context"
	"net/http"
	"time"

	"cityv-crowd/internal/models"
	"cityv-crowd/internal/staleness"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	defaultHistoryLimit  = 1000
	maxHistoryLimit      = 5000
)

// DeviceLookup implemented by registry.Resolver
type DeviceLookup interface {
	OwnedDevice(ctx context.Context, raw any, businessID string) (*models.Device, error)
}

// OccupancyReader implemented by occupancy.Tracker
type OccupancyReader interface {
	Snapshot(ctx context.Context, deviceID string, window time.Duration) (*models.DeviceOccupancy, error)
}

// HistoryReader implemented by repository.DetectionRepository
type HistoryReader interface {
	ListByDeviceRange(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]models.DetectionRecord, error)
}

// StalenessChecker implemented by staleness.Monitor
type StalenessChecker interface {
	Status(ctx context.Context, deviceID string, timeout time.Duration) (staleness.Status, error)
	Timeout() time.Duration
}

// HistoryResponse raw records of one device
type HistoryResponse struct {
	DeviceID string                   `json:"deviceId"`
	From     time.Time                `json:"from"`
	To       time.Time                `json:"to"`
	Stale    bool                     `json:"stale"`
	LastSeen *time.Time               `json:"lastSeen"`
	Records  []models.DetectionRecord `json:"records"`
}

// StatusResponse staleness of one device
type StatusResponse struct {
	DeviceID string     `json:"deviceId"`
	IsActive bool       `json:"isActive"`
	Stale    bool       `json:"stale"`
	LastSeen *time.Time `json:"lastSeen"`
	Timeout  string     `json:"timeout"`
}

// DeviceHandler device views. Every route resolves the device inside the
// path business first; devices of other businesses are reported as not found.
type DeviceHandler struct {
	devices   DeviceLookup
	occupancy OccupancyReader
	history   HistoryReader
	staleness StalenessChecker
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewDeviceHandler(
	devices DeviceLookup,
	occupancy OccupancyReader,
	history HistoryReader,
	staleness StalenessChecker,
	loc *time.Location,
	logger *zap.Logger,
) *DeviceHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DeviceHandler{
		devices:   devices,
		occupancy: occupancy,
		history:   history,
		staleness: staleness,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the clock used for default history ranges
func (h *DeviceHandler) WithClock(now func() time.Time) *DeviceHandler {
	h.now = now
	return h
}

func (h *DeviceHandler) device(r *http.Request) (*models.Device, error) {
	return h.devices.OwnedDevice(r.Context(), chi.URLParam(r, "deviceID"), chi.URLParam(r, "businessID"))
}

// Occupancy GET .../occupancy?window: current occupancy, level, trend and staleness.
// An inactive device has no current data.
func (h *DeviceHandler) Occupancy(w http.ResponseWriter, r *http.Request) {
	window, err := parseDurationParam("window", r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	device, err := h.device(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !device.IsActive {
		writeJSON(w, http.StatusOK, Ok(&models.DeviceOccupancy{
			DeviceID:   device.DeviceID,
			CrowdLevel: models.CrowdLevelEmpty,
			Trend:      models.TrendStable,
			Stale:      true,
			Status:     models.DeviceStatusInactive,
		}))
		return
	}

	snap, err := h.occupancy.Snapshot(r.Context(), device.DeviceID, window)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(snap))
}

// History GET .../history?from&to&limit: raw records, returned even when the
// device is stale. Defaults to the last 24 hours.
func (h *DeviceHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam("from", q.Get("from"), h.loc, false)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to, err := parseTimeParam("to", q.Get("to"), h.loc, true)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if to.IsZero() {
		to = h.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultHistoryWindow)
	}
	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, Fail(CodeInvalidInput, "from is after to"))
		return
	}
	limit := parseInt(q.Get("limit"), defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	device, err := h.device(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	records, err := h.history.ListByDeviceRange(r.Context(), device.DeviceID, from, to, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if records == nil {
		records = []models.DetectionRecord{}
	}
	st, err := h.staleness.Status(r.Context(), device.DeviceID, 0)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(HistoryResponse{
		DeviceID: device.DeviceID,
		From:     from,
		To:       to,
		Stale:    st.Stale,
		LastSeen: st.LastSeen,
		Records:  records,
	}))
}

// Status GET .../status?timeout: staleness against an optional custom timeout
func (h *DeviceHandler) Status(w http.ResponseWriter, r *http.Request) {
	timeout, err := parseSecondsParam("timeout", r.URL.Query().Get("timeout"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	device, err := h.device(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	st, err := h.staleness.Status(r.Context(), device.DeviceID, timeout)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if timeout <= 0 {
		timeout = h.staleness.Timeout()
	}
	writeJSON(w, http.StatusOK, Ok(StatusResponse{
		DeviceID: device.DeviceID,
		IsActive: device.IsActive,
		Stale:    st.Stale,
		LastSeen: st.LastSeen,
		Timeout:  timeout.String(),
	}))
}

package devicesim

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// IngestPath device ingest route
const IngestPath = "/api/v1/iot/detections"

// Detection request body, as an ESP32 sends it
type Detection struct {
	DeviceID         string  `json:"deviceId"`
	PeopleCount      int     `json:"peopleCount"`
	CrowdDensity     float64 `json:"crowdDensity"`
	EntryCount       int     `json:"entryCount"`
	ExitCount        int     `json:"exitCount"`
	CurrentOccupancy int     `json:"currentOccupancy"`
	Timestamp        string  `json:"timestamp"`
}

type ingestReply struct {
	Success           bool   `json:"success"`
	RecordID          int64  `json:"recordId"`
	Duplicate         bool   `json:"duplicate"`
	CurrentOccupancy  int    `json:"currentOccupancy"`
	CrowdLevel        string `json:"crowdLevel"`
	CounterRegression bool   `json:"counterRegression"`
	Error             *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Report totals of one replay
type Report struct {
	Sent        int
	Accepted    int
	Duplicates  int
	Rejected    int
	Regressions int
}

// Simulator posts scenario steps to the ingest API
type Simulator struct {
	httpClient *resty.Client
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewSimulator creates a Simulator for baseURL
func NewSimulator(baseURL string, logger *zap.Logger) *Simulator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Simulator{
		httpClient: client,
		logger:     logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

type counters struct {
	entry, exit int
}

// Run replays sc. Each device keeps cumulative counters across steps; step i
// is stamped Start + i*Interval.
func (s *Simulator) Run(ctx context.Context, sc *Scenario) (Report, error) {
	var report Report
	state := make([]counters, len(sc.Devices))

	for i := 0; i < sc.Steps(); i++ {
		if i > 0 && sc.Realtime {
			if err := s.sleep(ctx, sc.Interval.Duration); err != nil {
				return report, err
			}
		}
		ts := sc.Start.Add(time.Duration(i) * sc.Interval.Duration)

		for d, dev := range sc.Devices {
			if i >= len(dev.Steps) {
				continue
			}
			step := dev.Steps[i]
			c := &state[d]
			if step.Reset {
				*c = counters{}
			}
			c.entry += step.Entries
			c.exit += step.Exits
			if step.Skip {
				continue
			}

			occ := c.entry - c.exit
			if occ < 0 {
				occ = 0
			}
			reply, err := s.send(ctx, Detection{
				DeviceID:         dev.DeviceID,
				PeopleCount:      occ,
				CrowdDensity:     step.Density,
				EntryCount:       c.entry,
				ExitCount:        c.exit,
				CurrentOccupancy: occ,
				Timestamp:        ts.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return report, err
			}
			report.Sent++
			switch {
			case !reply.Success:
				report.Rejected++
			case reply.Duplicate:
				report.Duplicates++
			default:
				report.Accepted++
			}
			if reply.CounterRegression {
				report.Regressions++
			}
		}
	}

	s.logger.Info("Scenario replayed",
		zap.String("scenario", sc.Name),
		zap.Int("sent", report.Sent),
		zap.Int("accepted", report.Accepted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("rejected", report.Rejected),
		zap.Int("regressions", report.Regressions),
	)
	return report, nil
}

func (s *Simulator) send(ctx context.Context, det Detection) (*ingestReply, error) {
	var reply ingestReply
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(det).
		SetResult(&reply).
		SetError(&reply).
		Post(IngestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to post detection for %s: %w", det.DeviceID, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("ingest API returned %d for %s", resp.StatusCode(), det.DeviceID)
	}

	if !reply.Success && reply.Error != nil {
		s.logger.Warn("Detection rejected",
			zap.String("device_id", det.DeviceID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("code", reply.Error.Code),
			zap.String("message", reply.Error.Message),
		)
	} else {
		s.logger.Debug("Detection sent",
			zap.String("device_id", det.DeviceID),
			zap.Int64("record_id", reply.RecordID),
			zap.Int("current_occupancy", reply.CurrentOccupancy),
			zap.String("crowd_level", reply.CrowdLevel),
		)
	}
	return &reply, nil
}

//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"cityv-crowd/common/config"
	"cityv-crowd/common/database"
	"cityv-crowd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "cityv_test",
		SSLMode:  "disable",
	}
	cfg.LoadFromEnv("TEST_DB")

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	require.NoError(t, EnsureSchema(context.Background(), db))
	return db
}

func seedBusiness(t *testing.T, db *sql.DB, businessID, deviceID string) {
	_, err := db.Exec(`INSERT INTO businesses (business_id, name) VALUES ($1, $1) ON CONFLICT DO NOTHING`, businessID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO business_cameras (device_id, business_id, display_name) VALUES ($1, $2, $1)
		ON CONFLICT (device_id) DO NOTHING`, deviceID, businessID)
	require.NoError(t, err)
}

func cleanup(db *sql.DB, businessID string) {
	db.Exec(`DELETE FROM iot_daily_summaries WHERE business_id = $1`, businessID)
	db.Exec(`DELETE FROM iot_crowd_analysis WHERE business_id = $1`, businessID)
	db.Exec(`DELETE FROM business_cameras WHERE business_id = $1`, businessID)
	db.Exec(`DELETE FROM businesses WHERE business_id = $1`, businessID)
}

func TestIntegration_InsertAndRecompute(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	logger := zap.NewNop()
	businessID := fmt.Sprintf("it-biz-%d", time.Now().UnixNano())
	deviceID := businessID + "-cam"
	seedBusiness(t, db, businessID, deviceID)
	defer cleanup(db, businessID)

	devices := NewDeviceRepository(db, logger)
	d, err := devices.GetByDeviceID(ctx, deviceID)
	require.NoError(t, err)
	byRow, err := devices.GetByCameraID(ctx, d.CameraID)
	require.NoError(t, err)
	assert.Equal(t, deviceID, byRow.DeviceID)

	detections := NewDetectionRepository(db, logger)
	ts := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	rec := &models.DetectionRecord{
		DeviceID: deviceID, BusinessID: businessID, PeopleCount: 7, CrowdDensity: 0.3,
		CrowdLevel: models.CrowdLevelLow, EntryCount: 10, ExitCount: 3, CurrentOccupancy: 7,
		AnalysisTimestamp: ts,
	}
	first, dup, err := detections.Insert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, dup)

	again, dup, err := detections.Insert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)

	summaries := NewSummaryRepository(db, logger)
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	compute := func(records []models.DetectionRecord) models.DailySummary {
		return models.DailySummary{TotalEntries: records[0].EntryCount, TotalExits: records[0].ExitCount, TotalDetections: len(records), ActiveCamerasCount: 1}
	}
	s1, err := summaries.Recompute(ctx, businessID, "2024-05-01", from, from.Add(24*time.Hour), compute)
	require.NoError(t, err)
	s2, err := summaries.Recompute(ctx, businessID, "2024-05-01", from, from.Add(24*time.Hour), compute)
	require.NoError(t, err)

	assert.Equal(t, 10, s1.TotalEntries)
	assert.Equal(t, s1, s2, "recompute over unchanged detections leaves the row untouched")
}

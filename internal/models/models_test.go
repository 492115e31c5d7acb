package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDensity_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    float64
		set     bool
		nan     bool
		inf     bool
		wantErr bool
	}{
		{name: "number", in: `0.3`, want: 0.3, set: true},
		{name: "numeric string", in: `"0.75"`, want: 0.75, set: true},
		{name: "null", in: `null`},
		{name: "empty string", in: `""`},
		{name: "NaN string", in: `"NaN"`, set: true, nan: true},
		{name: "Infinity string", in: `"Infinity"`, set: true, inf: true},
		{name: "negative", in: `-0.5`, want: -0.5, set: true},
		{name: "garbage", in: `"high"`, wantErr: true},
		{name: "bool", in: `true`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Density
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.set, d.Set)
			switch {
			case tt.nan:
				assert.True(t, math.IsNaN(d.Value))
			case tt.inf:
				assert.True(t, math.IsInf(d.Value, 1))
			default:
				assert.InDelta(t, tt.want, d.Value, 1e-9)
			}
		})
	}
}

func TestDetectionInput_Decode(t *testing.T) {
	body := `{"deviceId":"cam-1","peopleCount":4,"crowdDensity":0.3,"entryCount":10,"exitCount":3,"timestamp":"2024-05-01T14:00:00Z"}`
	var in DetectionInput
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	assert.Equal(t, "cam-1", in.DeviceID)
	assert.Equal(t, 10, in.EntryCount)
	assert.Nil(t, in.CurrentOccupancy)
	assert.Equal(t, time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC), in.Timestamp.UTC())
}

func TestEventTime_UnixForms(t *testing.T) {
	want := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	var sec EventTime
	require.NoError(t, json.Unmarshal([]byte(`1714572000`), &sec))
	assert.True(t, want.Equal(sec.Time))

	var ms EventTime
	require.NoError(t, json.Unmarshal([]byte(`1714572000000`), &ms))
	assert.True(t, want.Equal(ms.Time))

	var quoted EventTime
	require.NoError(t, json.Unmarshal([]byte(`"1714572000"`), &quoted))
	assert.True(t, want.Equal(quoted.Time))

	var bad EventTime
	err := json.Unmarshal([]byte(`"yesterday"`), &bad)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestCrowdLevel_Rank(t *testing.T) {
	order := []CrowdLevel{CrowdLevelEmpty, CrowdLevelLow, CrowdLevelModerate, CrowdLevelHigh, CrowdLevelVeryHigh}
	for i, l := range order {
		assert.Equal(t, i, l.Rank())
		assert.True(t, l.Valid())
	}
	assert.False(t, CrowdLevel("packed").Valid())
}

func TestWeeklySchedule_IsOpenAt(t *testing.T) {
	raw := `{
		"monday": {"isOpen": true, "openTime": "09:00", "closeTime": "18:00"},
		"friday": {"isOpen": true, "openTime": "20:00", "closeTime": "02:00"},
		"sunday": {"isOpen": true, "openTime": "00:00", "closeTime": "00:00"},
		"tue": {"isOpen": false}
	}`
	ws, err := ParseWeeklySchedule([]byte(raw))
	require.NoError(t, err)

	// 2024-05-06 is a Monday
	at := func(day, hour, min int) time.Time {
		return time.Date(2024, 5, day, hour, min, 0, 0, time.UTC)
	}
	assert.True(t, ws.IsOpenAt(at(6, 9, 0)))
	assert.True(t, ws.IsOpenAt(at(6, 17, 59)))
	assert.False(t, ws.IsOpenAt(at(6, 18, 0)))
	assert.False(t, ws.IsOpenAt(at(6, 8, 59)))
	assert.False(t, ws.IsOpenAt(at(7, 12, 0)), "tuesday closed")
	assert.False(t, ws.IsOpenAt(at(8, 12, 0)), "wednesday missing")

	// friday overnight into saturday
	assert.True(t, ws.IsOpenAt(at(10, 23, 0)))
	assert.True(t, ws.IsOpenAt(at(11, 1, 30)))
	assert.False(t, ws.IsOpenAt(at(11, 2, 0)))

	// sunday all day
	assert.True(t, ws.IsOpenAt(at(12, 3, 0)))
}

func TestWeeklySchedule_Invalid(t *testing.T) {
	for _, raw := range []string{
		`{"monday": {"isOpen": true, "openTime": "9am", "closeTime": "18:00"}}`,
		`{"someday": {"isOpen": false}}`,
		`[1,2,3]`,
	} {
		_, err := ParseWeeklySchedule([]byte(raw))
		assert.True(t, errors.Is(err, ErrInvalidSchedule), raw)
	}
}

func TestWeeklySchedule_RoundTrip(t *testing.T) {
	ws, err := ParseWeeklySchedule([]byte(`{"mon": {"isOpen": true, "openTime": "10:00", "closeTime": "22:00"}}`))
	require.NoError(t, err)
	b, err := json.Marshal(ws)
	require.NoError(t, err)
	assert.JSONEq(t, `{"monday": {"isOpen": true, "openTime": "10:00", "closeTime": "22:00"}}`, string(b))
}

func TestDevice_Capacity(t *testing.T) {
	var nilDev *Device
	assert.Equal(t, 0, nilDev.Capacity())
	c := 40
	assert.Equal(t, 40, (&Device{MaxCapacity: &c}).Capacity())
	zero := 0
	assert.Equal(t, 0, (&Device{MaxCapacity: &zero}).Capacity())
}

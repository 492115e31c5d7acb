package models

import "errors"

var (
	// ErrInvalidInput malformed or out-of-range payload; the single record is rejected
	ErrInvalidInput = errors.New("invalid input")

	// ErrDeviceNotFound no registry entry for the device id in any representation
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceInactive registry entry exists but is soft-deleted
	ErrDeviceInactive = errors.New("device inactive")

	// ErrCounterRegression entry/exit counters went backwards (device reboot or reset).
	// Stored as a flag on the record, never returned from Ingest.
	ErrCounterRegression = errors.New("counter regression")

	// ErrAggregationConflict summary row write kept losing races after retries
	ErrAggregationConflict = errors.New("aggregation conflict")

	// ErrInvalidSchedule working hours could not be parsed or validated
	ErrInvalidSchedule = errors.New("invalid schedule")
)

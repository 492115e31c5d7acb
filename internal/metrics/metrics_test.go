package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(DetectionsTotal.WithLabelValues(ResultDuplicate))
	RecordIngest(ResultDuplicate, 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(DetectionsTotal.WithLabelValues(ResultDuplicate)))
}

func TestRecordRollup(t *testing.T) {
	okBefore := testutil.ToFloat64(RollupsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(RollupsTotal.WithLabelValues("error"))

	RecordRollup(time.Millisecond, nil)
	RecordRollup(time.Millisecond, errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(RollupsTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(RollupsTotal.WithLabelValues("error")))
}

func TestRecordCache(t *testing.T) {
	hits := testutil.ToFloat64(CacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(CacheLookups.WithLabelValues("miss"))
	RecordCache(true)
	RecordCache(false)
	RecordCache(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(CacheLookups.WithLabelValues("miss")))
}

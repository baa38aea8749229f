package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDBQuery(t *testing.T) {
	before := testutil.CollectAndCount(DefaultMetrics.DBQueryDuration,
		"escrow_sync_database_query_duration_seconds")

	RecordDBQuery("postgres", "escrow_create", 0.012, nil)

	after := testutil.CollectAndCount(DefaultMetrics.DBQueryDuration,
		"escrow_sync_database_query_duration_seconds")
	assert.Greater(t, after, before)
	assert.Zero(t, testutil.ToFloat64(
		DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "escrow_create")))

	RecordDBQuery("postgres", "escrow_create", 0.03, errors.New("connection reset"))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "escrow_create")))
}

func TestRecordJournalWrite(t *testing.T) {
	writes := testutil.ToFloat64(DefaultMetrics.JournalWrites)
	failures := testutil.ToFloat64(DefaultMetrics.JournalErrors)

	RecordJournalWrite(nil)
	assert.Equal(t, writes+1, testutil.ToFloat64(DefaultMetrics.JournalWrites))
	assert.Equal(t, failures, testutil.ToFloat64(DefaultMetrics.JournalErrors))

	RecordJournalWrite(errors.New("insert failed"))
	assert.Equal(t, writes+1, testutil.ToFloat64(DefaultMetrics.JournalWrites))
	assert.Equal(t, failures+1, testutil.ToFloat64(DefaultMetrics.JournalErrors))
}

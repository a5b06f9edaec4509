package writer

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
)

func TestNewValidatesInputs(t *testing.T) {
	_, err := New(nil, Config{SettlementTable: "settlement_events"})
	require.Error(t, err)
	_, err = newWriter(&fakeInserter{}, Config{SettlementTable: " "})
	require.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	w, err := newWriter(&fakeInserter{}, Config{SettlementTable: "settlement_events", BaseDelay: time.Second, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, uint64(defaultAttempts), w.attempts)
	assert.Equal(t, time.Second, w.maxDelay)
}

func TestInsertSettlementUsesEventIDAsInsertID(t *testing.T) {
	inserter := &fakeInserter{}
	w := testWriter(t, inserter, 3)

	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementEventRow{EventID: "evt-1"}))
	require.Len(t, inserter.rows, 1)
	saver, ok := inserter.rows[0].(cbigquery.ValueSaver)
	require.True(t, ok)
	_, insertID, err := saver.Save()
	require.NoError(t, err)
	assert.Equal(t, "evt-1", insertID)
	assert.Equal(t, "settlement_events", inserter.table)
}

func TestInsertSettlementRetriesTransientErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		status.Error(codes.Unavailable, "try again"),
	}}
	w := testWriter(t, inserter, 3)

	require.NoError(t, w.InsertSettlement(context.Background(), types.SettlementEventRow{EventID: "evt-1"}))
	assert.Equal(t, 3, inserter.calls)
}

func TestInsertSettlementStopsOnPermanentError(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusBadRequest}}}
	w := testWriter(t, inserter, 3)

	err := w.InsertSettlement(context.Background(), types.SettlementEventRow{EventID: "evt-1"})
	require.Error(t, err)
	assert.Equal(t, 1, inserter.calls)
}

func TestInsertSettlementGivesUpAfterAttempts(t *testing.T) {
	transient := &googleapi.Error{Code: http.StatusTooManyRequests}
	inserter := &fakeInserter{errs: []error{transient, transient, transient, transient}}
	w := testWriter(t, inserter, 2)

	err := w.InsertSettlement(context.Background(), types.SettlementEventRow{EventID: "evt-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 2, inserter.calls)
}

func TestRetryableClassifiesRowErrors(t *testing.T) {
	backend := &cbigquery.Error{Reason: "backendError"}
	invalid := &cbigquery.Error{Reason: "invalid"}

	assert.True(t, retryable(cbigquery.PutMultiError{{Errors: cbigquery.MultiError{backend}}}))
	assert.False(t, retryable(cbigquery.PutMultiError{{Errors: cbigquery.MultiError{backend, invalid}}}))
	assert.False(t, retryable(cbigquery.PutMultiError{}))
	assert.True(t, retryable(cbigquery.MultiError{status.Error(codes.ResourceExhausted, "quota")}))
	assert.False(t, retryable(errors.New("plain")))
}

func testWriter(t *testing.T, inserter *fakeInserter, attempts int) *BigQueryWriter {
	t.Helper()
	w, err := newWriter(inserter, Config{
		SettlementTable: "settlement_events",
		Attempts:        attempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

type fakeInserter struct {
	errs  []error
	calls int
	table string
	rows  []any
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls++
	f.table = table
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

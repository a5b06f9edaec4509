// Package writer streams settlement rows into BigQuery.
package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/coinmarket-backend/pkg/bigquery"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 250 * time.Millisecond
	defaultMaxDelay  = 2 * time.Second
)

// Config names the destination table and the in-process retry budget for a
// single insert. Anything past the budget goes back to Pub/Sub as a nack.
type Config struct {
	SettlementTable string
	Attempts        int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter inserts one row per call, retrying transient failures.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	attempts  uint64
	baseDelay time.Duration
	maxDelay  time.Duration
}

func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	return newWriter(client, cfg)
}

func newWriter(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	table := strings.TrimSpace(cfg.SettlementTable)
	if table == "" {
		return nil, errors.New("settlement table is required")
	}
	w := &BigQueryWriter{
		client:    client,
		table:     table,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
	}
	if cfg.Attempts > 0 {
		w.attempts = uint64(cfg.Attempts)
	}
	if cfg.BaseDelay > 0 {
		w.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		w.maxDelay = cfg.MaxDelay
	}
	if w.maxDelay < w.baseDelay {
		w.maxDelay = w.baseDelay
	}
	return w, nil
}

func (w *BigQueryWriter) InsertSettlement(ctx context.Context, row types.SettlementEventRow) error {
	rows := []any{row}
	backoff := retry.WithMaxRetries(w.attempts-1, retry.WithCappedDuration(w.maxDelay, retry.NewExponential(w.baseDelay)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s row %s: %w", w.table, row.EventID, err)
	}
	return nil
}

// retryable reports whether every failure inside err is transient. A batch
// with one bad row is not retried; it would fail the same way again.
func retryable(err error) bool {
	var putErr cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		if len(putErr) == 0 {
			return false
		}
		for _, rowErr := range putErr {
			if !allRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}

	var bqErr *cbigquery.Error
	if errors.As(err, &bqErr) {
		switch bqErr.Reason {
		case "backendError", "internalError", "rateLimitExceeded", "timeout":
			return true
		}
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allRetryable(errs cbigquery.MultiError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !retryable(err) {
			return false
		}
	}
	return true
}

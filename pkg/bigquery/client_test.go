package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/gcp"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "settlement"}, nil)
	require.ErrorIs(t, err, gcp.ErrProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "coinmarket-dev"}, config.BigQueryConfig{Dataset: " "}, nil)
	require.ErrorIs(t, err, errDatasetRequired)
}

func TestTableMetadataPartitionsByField(t *testing.T) {
	schema := bigquery.Schema{{Name: "occurred_at", Type: bigquery.TimestampFieldType}}

	meta := tableMetadata(TableSpec{Name: "settlement_events", Schema: schema, PartitionField: "occurred_at"})
	require.NotNil(t, meta.TimePartitioning)
	assert.Equal(t, "occurred_at", meta.TimePartitioning.Field)
	assert.Equal(t, bigquery.DayPartitioningType, meta.TimePartitioning.Type)
	assert.Equal(t, schema, meta.Schema)

	assert.Nil(t, tableMetadata(TableSpec{Name: "raw"}).TimePartitioning)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("metadata: %w", &googleapi.Error{Code: http.StatusNotFound})))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("boom")))
}

func TestNilClient(t *testing.T) {
	var c *Client
	ctx := context.Background()
	assert.ErrorIs(t, c.InsertRows(ctx, "settlement_events", []any{1}), errClientNotInitialized)
	assert.ErrorIs(t, c.EnsureTable(ctx, TableSpec{Name: "settlement_events"}), errClientNotInitialized)
	assert.ErrorIs(t, c.Ping(ctx), errClientNotInitialized)
	assert.NoError(t, c.Close())
}

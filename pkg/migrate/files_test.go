package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n\n-- +goose Down\nSELECT 1;\n"

func TestCreateWritesTemplateOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.FixedZone("BRT", -3*3600))

	path, err := Create(dir, "Add Pix Key Index!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260504060201_add_pix_key_index.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"))
	require.NoError(t, Validate(os.DirFS(dir)))

	_, err = Create(dir, "add pix key index", now)
	assert.Error(t, err, "same version and name must not overwrite")

	_, err = Create(dir, "---", now)
	assert.Error(t, err)
}

func TestValidateRejectsBrokenSets(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"empty": {},
		"bad name": {
			"20260101000000_Bad-Name.sql": {Data: []byte(validBody)},
		},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte(validBody)},
			"20260101000000_b.sql": {Data: []byte(validBody)},
		},
		"missing down": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"unbalanced statements": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
		},
	}
	for name, files := range cases {
		assert.Error(t, Validate(files), name)
	}

	assert.NoError(t, Validate(fstest.MapFS{
		"20260101000000_a.sql": {Data: []byte(validBody)},
		"README.md":            {Data: []byte("ignored")},
	}))
}

func TestFilesRejectsMissingDir(t *testing.T) {
	_, err := Files(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

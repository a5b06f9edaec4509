package validators

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func queryError(key, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").WithDetails(map[string]string{key: message})
}

// ParseQueryInt returns def when key is absent. Present values must be
// integers within [lo, hi].
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer")
	}
	if value < lo || value > hi {
		return 0, queryError(key, fmt.Sprintf("must be between %d and %d", lo, hi))
	}
	return value, nil
}

// ParseQueryChoice lowercases the value and checks it against allowed. An
// absent key yields def.
func ParseQueryChoice(r *http.Request, key, def string, allowed ...string) (string, error) {
	raw := strings.ToLower(queryValue(r, key))
	if raw == "" {
		return def, nil
	}
	if !slices.Contains(allowed, raw) {
		return "", queryError(key, "must be one of "+strings.Join(allowed, ", "))
	}
	return raw, nil
}

// ParsePageParams reads limit and cursor. The cursor is only checked for
// shape here; the repository decodes it again.
func ParsePageParams(r *http.Request) (pagination.Params, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor := queryValue(r, "cursor")
	if _, err := pagination.ParseCursor(cursor); err != nil {
		return pagination.Params{}, queryError("cursor", "is not a valid page cursor")
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

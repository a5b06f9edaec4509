package gcp

import "errors"

var ErrProjectIDRequired = errors.New("COINMARKET_GCP_PROJECT_ID is required")

// Package gcp holds the pieces shared by the Google Cloud clients.
package gcp

import (
	"strings"

	"google.golang.org/api/option"

	"github.com/angelmondragon/coinmarket-backend/pkg/config"
)

// ClientOptions picks inline credentials over a credentials file. With
// neither set the clients fall back to application default credentials.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(cfg.ApplicationCredentials))}
	default:
		return nil
	}
}

// ProjectID returns the trimmed project or an error naming the missing key.
func ProjectID(cfg config.GCPConfig) (string, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return "", ErrProjectIDRequired
	}
	return project, nil
}

package instance

import (
	"os"
	"strings"
)

// GetID returns an identifier for this process, used to tell replicas apart in
// logs. The explicit override wins, then the platform dyno name, then the host.
func GetID(kind string) string {
	for _, key := range []string{"COINMARKET_INSTANCE_ID", "DYNO", "HOSTNAME"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "worker"
	}
	return kind + "-0"
}

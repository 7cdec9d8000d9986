package discovery

import (
	"strconv"

	"github.com/rebeliceyang/dataops/internal/models"
)

const defaultPort = 5432

// FromEnvironment builds a candidate from the libpq variables. PGHOST is required.
func FromEnvironment(getenv func(string) string) (Candidate, bool) {
	host := getenv("PGHOST")
	if host == "" {
		return Candidate{}, false
	}

	user := getenv("PGUSER")
	if user == "" {
		user = getenv("USER")
	}
	database := getenv("PGDATABASE")
	if database == "" {
		database = user
	}

	return Candidate{
		DataSource: models.DataSource{
			Name:     "Environment",
			Type:     models.DatabaseTypePostgreSQL,
			Host:     host,
			Port:     parsePort(getenv("PGPORT")),
			Database: database,
			User:     user,
			SSLMode:  getenv("PGSSLMODE"),
		},
		Source: SourceEnvironment,
	}, true
}

// parsePort returns the default port for empty, malformed or out-of-range values
func parsePort(s string) int {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return defaultPort
	}
	return p
}

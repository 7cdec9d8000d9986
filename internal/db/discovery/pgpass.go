package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/jackc/pgpassfile"

	"github.com/rebeliceyang/dataops/internal/models"
)

// PassfilePath returns PGPASSFILE, or ~/.pgpass
func PassfilePath(getenv func(string) string) string {
	if p := getenv("PGPASSFILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pgpass")
}

// FromPassfile lists one candidate per concrete host:port in a pgpass file.
// A missing file yields nothing; a group- or world-readable one is refused,
// as libpq does.
func FromPassfile(path string) ([]Candidate, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("%s has insecure permissions %v, must be 0600", path, info.Mode().Perm())
	}

	pf, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, e := range pf.Entries {
		if e.Hostname == "*" || e.Hostname == "" {
			continue
		}
		port := defaultPort
		if e.Port != "*" {
			p, err := strconv.Atoi(e.Port)
			if err != nil || p < 1 || p > 65535 {
				continue
			}
			port = p
		}

		key := e.Hostname + ":" + strconv.Itoa(port)
		if seen[key] {
			continue
		}
		seen[key] = true

		ds := models.DataSource{
			Type: models.DatabaseTypePostgreSQL,
			Host: e.Hostname,
			Port: port,
		}
		if e.Database != "*" {
			ds.Database = e.Database
		}
		if e.Username != "*" {
			ds.User = e.Username
		}
		out = append(out, Candidate{DataSource: ds, Source: SourcePgPass})
	}
	return out, nil
}

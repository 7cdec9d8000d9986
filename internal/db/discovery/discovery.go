// Package discovery finds PostgreSQL servers worth registering as data
// sources: the PG* environment, ~/.pgpass entries and open local ports.
package discovery

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rebeliceyang/dataops/internal/models"
)

// Source tells where a candidate was found. Lower values are more specific.
type Source int

const (
	SourceEnvironment Source = iota
	SourcePgPass
	SourcePortScan
)

func (s Source) String() string {
	switch s {
	case SourceEnvironment:
		return "environment"
	case SourcePgPass:
		return "pgpass"
	case SourcePortScan:
		return "port scan"
	default:
		return "unknown"
	}
}

// Candidate is an unregistered data source found on this machine
type Candidate struct {
	models.DataSource
	Source  Source
	Latency time.Duration // port scans only
}

// Discoverer coordinates all discovery methods
type Discoverer struct {
	scanner *Scanner
	getenv  func(string) string
	logger  *slog.Logger
}

// NewDiscoverer creates a discoverer reading the process environment
func NewDiscoverer(logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		scanner: NewScanner(),
		getenv:  os.Getenv,
		logger:  logger.With("component", "discovery"),
	}
}

// Discover runs every method and returns candidates deduplicated by
// host:port, the most specific source winning
func (d *Discoverer) Discover(ctx context.Context) []Candidate {
	var found []Candidate

	if c, ok := FromEnvironment(d.getenv); ok {
		found = append(found, c)
	}

	if path := PassfilePath(d.getenv); path != "" {
		entries, err := FromPassfile(path)
		if err != nil {
			d.logger.Warn("skipping pgpass", "path", path, "error", err)
		}
		found = append(found, entries...)
	}

	found = append(found, d.scanner.ScanLocalhost(ctx)...)

	return dedupe(found)
}

func dedupe(found []Candidate) []Candidate {
	best := make(map[string]Candidate, len(found))
	for _, c := range found {
		key := c.Host + ":" + strconv.Itoa(c.Port)
		if existing, ok := best[key]; !ok || c.Source < existing.Source {
			best[key] = c
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}

package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rebeliceyang/dataops/internal/models"
)

// DefaultPorts are the PostgreSQL ports probed on localhost
var DefaultPorts = []int{5432, 5433, 5434, 5435}

// Scanner probes TCP ports for listening servers
type Scanner struct {
	timeout time.Duration
}

// NewScanner creates a scanner with a 2s dial timeout
func NewScanner() *Scanner {
	return &Scanner{timeout: 2 * time.Second}
}

// ScanPorts dials every port concurrently and returns the open ones in port order
func (s *Scanner) ScanPorts(ctx context.Context, host string, ports []int) []Candidate {
	if len(ports) == 0 {
		ports = DefaultPorts
	}

	results := make([]*Candidate, len(ports))
	var g errgroup.Group
	for i, port := range ports {
		g.Go(func() error {
			results[i] = s.probe(ctx, host, port)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Candidate, 0, len(ports))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ScanLocalhost scans DefaultPorts on localhost
func (s *Scanner) ScanLocalhost(ctx context.Context) []Candidate {
	return s.ScanPorts(ctx, "localhost", DefaultPorts)
}

// probe returns nil when nothing accepts on the port
func (s *Scanner) probe(ctx context.Context, host string, port int) *Candidate {
	dialer := &net.Dialer{Timeout: s.timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil
	}
	latency := time.Since(start)
	_ = conn.Close()

	return &Candidate{
		DataSource: models.DataSource{
			Type: models.DatabaseTypePostgreSQL,
			Host: host,
			Port: port,
		},
		Source:  SourcePortScan,
		Latency: latency,
	}
}

package discovery

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/rebeliceyang/dataops/internal/models"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnvironment(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		wantOK bool
		want   models.DataSource
	}{
		{
			name:   "no host",
			env:    map[string]string{"PGUSER": "app"},
			wantOK: false,
		},
		{
			name:   "full",
			env:    map[string]string{"PGHOST": "db", "PGPORT": "6432", "PGUSER": "app", "PGDATABASE": "shop", "PGSSLMODE": "require"},
			wantOK: true,
			want:   models.DataSource{Name: "Environment", Type: models.DatabaseTypePostgreSQL, Host: "db", Port: 6432, Database: "shop", User: "app", SSLMode: "require"},
		},
		{
			name:   "defaults",
			env:    map[string]string{"PGHOST": "db", "PGPORT": "99999", "USER": "me"},
			wantOK: true,
			want:   models.DataSource{Name: "Environment", Type: models.DatabaseTypePostgreSQL, Host: "db", Port: 5432, Database: "me", User: "me"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromEnvironment(envOf(tt.env))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.DataSource != tt.want {
				t.Errorf("got %+v, want %+v", got.DataSource, tt.want)
			}
			if got.Source != SourceEnvironment {
				t.Errorf("source = %v", got.Source)
			}
		})
	}
}

func writePassfile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgpass")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFromPassfile(t *testing.T) {
	path := writePassfile(t, `# comment
db.internal:5432:shop:app:secret
db.internal:5432:other:app:secret
*:*:*:admin:pw
replica:*:*:*:pw
bad:notaport:x:y:z
`, 0600)

	got, err := FromPassfile(path)
	if err != nil {
		t.Fatalf("FromPassfile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(got), got)
	}
	if got[0].Host != "db.internal" || got[0].Database != "shop" || got[0].User != "app" {
		t.Errorf("first = %+v", got[0].DataSource)
	}
	if got[1].Host != "replica" || got[1].Port != 5432 || got[1].User != "" {
		t.Errorf("second = %+v", got[1].DataSource)
	}
}

func TestFromPassfile_Missing(t *testing.T) {
	got, err := FromPassfile(filepath.Join(t.TempDir(), "nope"))
	if err != nil || got != nil {
		t.Errorf("got %v, %v; want nil, nil", got, err)
	}
}

func TestFromPassfile_InsecurePermissions(t *testing.T) {
	path := writePassfile(t, "h:5432:d:u:p\n", 0644)
	if _, err := FromPassfile(path); err == nil {
		t.Error("expected an error for a world-readable file")
	}
}

func TestPassfilePath(t *testing.T) {
	if got := PassfilePath(envOf(map[string]string{"PGPASSFILE": "/x/pass"})); got != "/x/pass" {
		t.Errorf("got %q", got)
	}
}

func TestScanPorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	open := ln.Addr().(*net.TCPAddr).Port

	// grab a free port and release it so nothing listens there
	closedLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := closedLn.Addr().(*net.TCPAddr).Port
	closedLn.Close()

	got := NewScanner().ScanPorts(context.Background(), "127.0.0.1", []int{closed, open})
	if len(got) != 1 {
		t.Fatalf("got %d open ports, want 1", len(got))
	}
	if got[0].Port != open || got[0].Source != SourcePortScan {
		t.Errorf("got %+v", got[0])
	}
}

func TestDedupe(t *testing.T) {
	in := []Candidate{
		{DataSource: models.DataSource{Host: "localhost", Port: 5432}, Source: SourcePortScan},
		{DataSource: models.DataSource{Host: "localhost", Port: 5432, User: "app"}, Source: SourcePgPass},
		{DataSource: models.DataSource{Host: "localhost", Port: 5433}, Source: SourcePortScan},
		{DataSource: models.DataSource{Host: "db", Port: 5432}, Source: SourceEnvironment},
	}

	got := dedupe(in)
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	if got[0].Host != "db" || got[1].User != "app" || got[2].Port != 5433 {
		t.Errorf("unexpected order or winner: %+v", got)
	}
}

func TestSourceString(t *testing.T) {
	if SourcePgPass.String() != "pgpass" || Source(42).String() != "unknown" {
		t.Error("unexpected source names")
	}
}

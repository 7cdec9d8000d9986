// Package datasource is the registry of configured database servers. Entries
// live in a YAML file; passwords live in the OS keyring.
package datasource

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rebeliceyang/dataops/internal/models"
)

// DefaultFileName is the registry file name inside the config directory
const DefaultFileName = "datasources.yaml"

// ErrNotFound is returned for unknown data source ids
var ErrNotFound = errors.New("data source not found")

// Registry manages registered data sources
type Registry struct {
	path      string
	passwords *PasswordStore
	logger    *slog.Logger

	mu      sync.RWMutex
	sources []models.DataSource
}

// NewRegistry opens the registry file at path, which may not exist yet
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:      path,
		passwords: NewPasswordStore(),
		logger:    logger.With("component", "datasource"),
		sources:   []models.DataSource{},
	}

	// Load existing registry if file exists
	if _, err := os.Stat(path); err == nil {
		if err := r.Load(); err != nil {
			return nil, fmt.Errorf("failed to load data sources: %w", err)
		}
	}

	return r, nil
}

// Path returns the registry file location
func (r *Registry) Path() string {
	return r.path
}

// Load (re)reads the registry file
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read data source file: %w", err)
	}

	var sources []models.DataSource
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return fmt.Errorf("failed to parse data sources: %w", err)
	}
	for i := range sources {
		normalize(&sources[i])
	}

	r.mu.Lock()
	r.sources = sources
	r.mu.Unlock()

	return nil
}

// save writes the registry file; callers hold r.mu
func (r *Registry) save() error {
	data, err := yaml.Marshal(r.sources)
	if err != nil {
		return fmt.Errorf("failed to marshal data sources: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(r.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write data source file: %w", err)
	}

	return nil
}

// Add registers a data source or updates the one with the same ID. A new
// entry without an ID gets a generated one. The password goes to the keyring.
func (r *Registry) Add(cfg models.ConnectionConfig) (models.DataSource, error) {
	ds := cfg.DataSource
	normalize(&ds)
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if ds.Name == "" {
		ds.Name = ds.Address()
	}

	if err := r.passwords.Save(ds.ID, cfg.Password); err != nil {
		// the entry is still usable with a password from the environment or .pgpass
		r.logger.Warn("failed to save password", "datasource", ds.ID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i := range r.sources {
		if r.sources[i].ID == ds.ID {
			r.sources[i] = ds
			replaced = true
			break
		}
	}
	if !replaced {
		r.sources = append(r.sources, ds)
	}

	if err := r.save(); err != nil {
		return models.DataSource{}, err
	}
	return ds, nil
}

// Get returns one data source
func (r *Registry) Get(id string) (models.DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ds := range r.sources {
		if ds.ID == id {
			return ds, nil
		}
	}
	return models.DataSource{}, fmt.Errorf("%q: %w", id, ErrNotFound)
}

// GetAll returns every registered data source in file order
func (r *Registry) GetAll() []models.DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.DataSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Delete removes a data source and its stored password
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, ds := range r.sources {
		if ds.ID == id {
			if err := r.passwords.Delete(id); err != nil {
				r.logger.Warn("failed to delete password", "datasource", id, "error", err)
			}
			r.sources = append(r.sources[:i], r.sources[i+1:]...)
			return r.save()
		}
	}
	return fmt.Errorf("%q: %w", id, ErrNotFound)
}

// Resolve returns a data source with its password, for opening connections.
// A missing keyring entry yields an empty password.
func (r *Registry) Resolve(id string) (models.ConnectionConfig, error) {
	ds, err := r.Get(id)
	if err != nil {
		return models.ConnectionConfig{}, err
	}

	cfg := models.ConnectionConfig{DataSource: ds}
	password, err := r.passwords.Get(id)
	switch {
	case err == nil:
		cfg.Password = password
	case errors.Is(err, ErrPasswordNotFound):
	default:
		r.logger.Warn("failed to read password", "datasource", id, "error", err)
	}

	return cfg, nil
}

func normalize(ds *models.DataSource) {
	ds.Type = models.DatabaseType(strings.ToUpper(string(ds.Type)))
	if ds.Type == "" {
		ds.Type = models.DatabaseTypePostgreSQL
	}
	if ds.Port == 0 && ds.Type == models.DatabaseTypePostgreSQL {
		ds.Port = 5432
	}
}

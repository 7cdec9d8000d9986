package models

import "fmt"

// DatabaseType is the engine a data source declares
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "POSTGRESQL"
	DatabaseTypeMySQL      DatabaseType = "MYSQL"
	DatabaseTypeH2         DatabaseType = "H2"
	DatabaseTypeOracle     DatabaseType = "ORACLE"
)

// DataSource represents a registered database connection
type DataSource struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Type     DatabaseType `yaml:"type" json:"type"`
	Host     string       `yaml:"host" json:"host"`
	Port     int          `yaml:"port" json:"port"`
	Database string       `yaml:"database" json:"database"`
	User     string       `yaml:"user" json:"user"`
	// Note: Password is NOT stored in the registry file, it lives in the keyring
	SSLMode string `yaml:"ssl_mode" json:"sslMode"`
}

// Address returns user@host:port/database
func (d DataSource) Address() string {
	return fmt.Sprintf("%s@%s:%d/%s", d.User, d.Host, d.Port, d.Database)
}

// ConnectionConfig is a data source plus the secret needed to open it
type ConnectionConfig struct {
	DataSource
	Password string
}

// ConnectionInfo is the public detail of a data source shown in the workspace header
type ConnectionInfo struct {
	DataSource
	ServerVersion string `json:"serverVersion"`
}

// LogicalDatabase is one database under a data source
type LogicalDatabase struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

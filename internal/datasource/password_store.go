package datasource

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "dataops"

// ErrPasswordNotFound is returned when no password is stored for a data source
var ErrPasswordNotFound = errors.New("password not found in keyring")

// PasswordStore keeps data source passwords in the OS keyring
type PasswordStore struct {
	service string
}

// NewPasswordStore creates a password store under the application's keyring service
func NewPasswordStore() *PasswordStore {
	return &PasswordStore{service: serviceName}
}

// Save stores a password. Empty passwords are not stored.
func (ps *PasswordStore) Save(dataSourceID, password string) error {
	if password == "" {
		return nil
	}
	if err := keyring.Set(ps.service, dataSourceID, password); err != nil {
		return fmt.Errorf("failed to save password to keyring: %w", err)
	}
	return nil
}

// Get retrieves a password
func (ps *PasswordStore) Get(dataSourceID string) (string, error) {
	password, err := keyring.Get(ps.service, dataSourceID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrPasswordNotFound
		}
		return "", fmt.Errorf("failed to read password from keyring: %w", err)
	}
	return password, nil
}

// Delete removes a password; a missing entry is not an error
func (ps *PasswordStore) Delete(dataSourceID string) error {
	err := keyring.Delete(ps.service, dataSourceID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from keyring: %w", err)
	}
	return nil
}

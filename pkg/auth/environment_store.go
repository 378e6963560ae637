package auth

import (
	"os"
	"time"
)

// EnvironmentStore implements CredentialStore over environment
// variables. Read-only: it serves CI and headless setups where the
// cookie is injected externally.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	cookie := os.Getenv("BILICRAWL_COOKIE")
	csrfToken := os.Getenv("BILICRAWL_CSRF_TOKEN")
	userAgent := os.Getenv("BILICRAWL_USER_AGENT")

	if cookie == "" || csrfToken == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "default"
	}

	return &Account{
		Name:         name,
		Cookie:       cookie,
		CSRFToken:    csrfToken,
		UserAgent:    userAgent,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if environment credentials are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv("BILICRAWL_COOKIE") != "" && os.Getenv("BILICRAWL_CSRF_TOKEN") != ""
}

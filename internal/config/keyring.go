package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name under which credentials are
	// stored in the OS keychain.
	KeyringService = "KnowledgeGraph"

	// KeyringNeo4jUsernameItem is the keychain item for the Neo4j username.
	KeyringNeo4jUsernameItem = "neo4j-username"

	// KeyringNeo4jPasswordItem is the keychain item for the Neo4j password.
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in the OS keychain:
// Keychain Access on macOS, Credential Manager on Windows, Secret Service
// (libsecret) on Linux.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager.
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// GetNeo4jUsername retrieves the Neo4j username from the OS keychain.
func (km *KeyringManager) GetNeo4jUsername() (string, error) {
	return km.get(KeyringNeo4jUsernameItem)
}

// SetNeo4jUsername stores the Neo4j username in the OS keychain.
func (km *KeyringManager) SetNeo4jUsername(username string) error {
	return km.set(KeyringNeo4jUsernameItem, username)
}

// GetNeo4jPassword retrieves the Neo4j password from the OS keychain.
func (km *KeyringManager) GetNeo4jPassword() (string, error) {
	return km.get(KeyringNeo4jPasswordItem)
}

// SetNeo4jPassword stores the Neo4j password in the OS keychain.
func (km *KeyringManager) SetNeo4jPassword(password string) error {
	return km.set(KeyringNeo4jPasswordItem, password)
}

func (km *KeyringManager) get(item string) (string, error) {
	value, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to read from keychain", "item", item, "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return value, nil
}

func (km *KeyringManager) set(item, value string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}
	if err := keyring.Set(KeyringService, item, value); err != nil {
		km.logger.Error("failed to save to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("credential saved to keychain", "item", item)
	return nil
}

// Delete removes a stored Neo4j credential from the OS keychain.
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete from keychain", "item", item, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	return nil
}

// IsAvailable reports whether the OS keychain is reachable. It returns
// false on headless systems (CI/CD) where no keychain backend exists.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// MaskSecret masks a secret for display, showing only its length class.
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "********"
}

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/explorekg/knowledge-graph/internal/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager resolves Neo4j backend credentials through a priority
// chain: environment variable -> OS keychain -> config file -> interactive
// prompt (packaged, interactive mode only).
type CredentialManager struct {
	mode       DeploymentMode
	keyring    *KeyringManager
	configPath string
}

// Credentials holds the persisted fallback for Neo4j credentials.
type Credentials struct {
	Neo4jUsername string `yaml:"neo4j_username"`
	Neo4jPassword string `yaml:"neo4j_password"`
}

// NewCredentialManager creates a new credential manager.
func NewCredentialManager() *CredentialManager {
	mode := DetectMode()
	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".config", "kgctl", "credentials.yaml")

	return &CredentialManager{
		mode:       mode,
		keyring:    NewKeyringManager(),
		configPath: configPath,
	}
}

// GetNeo4jUsername retrieves the Neo4j username using the priority chain.
func (cm *CredentialManager) GetNeo4jUsername() (string, error) {
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		return v, nil
	}

	if cm.keyring.IsAvailable() {
		if v, err := cm.keyring.GetNeo4jUsername(); err == nil && v != "" {
			return v, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jUsername != "" {
		return creds.Neo4jUsername, nil
	}

	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Print("Enter Neo4j username (default: neo4j): ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		v := strings.TrimSpace(line)
		if v == "" {
			v = "neo4j"
		}
		return v, nil
	}

	return "neo4j", nil
}

// GetNeo4jPassword retrieves the Neo4j password using the priority chain.
func (cm *CredentialManager) GetNeo4jPassword() (string, error) {
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		return v, nil
	}

	if cm.keyring.IsAvailable() {
		if v, err := cm.keyring.GetNeo4jPassword(); err == nil && v != "" {
			return v, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jPassword != "" {
		return creds.Neo4jPassword, nil
	}

	if cm.mode.AllowsInteractivePrompts() && isInteractive() {
		fmt.Println("\nNeo4j password not found.")
		return cm.promptForPassword()
	}

	return "", errors.ConfigErrorf(
		"NEO4J_PASSWORD not found. Set it via:\n"+
			"  1. Environment variable: export NEO4J_PASSWORD=...\n"+
			"  2. Run: kgctl configure (to set up keychain)\n"+
			"  3. Config file: %s", cm.configPath)
}

// SaveCredentials saves credentials to the keychain (preferred) or the
// config file (fallback).
func (cm *CredentialManager) SaveCredentials(creds Credentials) error {
	if cm.keyring.IsAvailable() {
		if creds.Neo4jUsername != "" {
			if err := cm.keyring.SetNeo4jUsername(creds.Neo4jUsername); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save Neo4j username to keychain")
			}
		}
		if creds.Neo4jPassword != "" {
			if err := cm.keyring.SetNeo4jPassword(creds.Neo4jPassword); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save Neo4j password to keychain")
			}
		}
		return nil
	}

	return cm.saveConfigFile(creds)
}

func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	return os.WriteFile(cm.configPath, data, 0600)
}

// promptForPassword prompts the user for the Neo4j password without
// echoing it to the terminal.
func (cm *CredentialManager) promptForPassword() (string, error) {
	fmt.Print("Enter Neo4j password: ")
	password, err := cm.readSecurely()
	if err != nil {
		return "", err
	}

	if password == "" {
		return "", errors.ConfigError("Neo4j password is required")
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SetNeo4jPassword(password); err == nil {
			fmt.Println("Saved to keychain")
		}
	} else {
		creds := Credentials{Neo4jPassword: password}
		if err := cm.saveConfigFile(creds); err == nil {
			fmt.Printf("Saved to %s\n", cm.configPath)
		}
	}

	return password, nil
}

// readSecurely reads a password/token from stdin without echoing.
func (cm *CredentialManager) readSecurely() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped).
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// GetMode returns the current deployment mode.
func (cm *CredentialManager) GetMode() DeploymentMode {
	return cm.mode
}

// GetConfigPath returns the path to the credentials file.
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

// HasCredentials reports whether Neo4j credentials are configured anywhere
// in the priority chain.
func (cm *CredentialManager) HasCredentials() bool {
	if os.Getenv("NEO4J_PASSWORD") != "" {
		return true
	}

	if cm.keyring.IsAvailable() {
		if v, err := cm.keyring.GetNeo4jPassword(); err == nil && v != "" {
			return true
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.Neo4jPassword != "" {
		return true
	}

	return false
}

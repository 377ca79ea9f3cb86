package config

import (
	"os"
	"strings"
)

// DeploymentMode distinguishes the environments kgctl and any service
// embedding the knowledge graph domain layer can run in, so credential
// resolution and config loading can pick different strategies for each.
type DeploymentMode string

const (
	// ModeDevelopment is a local checkout of this module: a .env file or
	// go.mod next to the binary, Neo4j/SQLite paths point at throwaway
	// local state, and credentials read straight out of .env are fine.
	ModeDevelopment DeploymentMode = "development"

	// ModePackaged is an installed kgctl binary with no source tree
	// alongside it (brew, a GoReleaser archive). Credentials come from
	// the priority chain in credentials.go: env var, OS keychain, config
	// file, interactive prompt.
	ModePackaged DeploymentMode = "packaged"

	// ModeCI is a pipeline run: every credential must already be in the
	// environment, and nothing may block on a prompt.
	ModeCI DeploymentMode = "ci"
)

// ciEnvVars are environment variables set by common CI providers; any one
// present is enough to conclude the process is running in a pipeline.
var ciEnvVars = []string{
	"CI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"TRAVIS",
	"JENKINS_URL",
	"BUILDKITE",
	"DRONE",
	"TF_BUILD",
}

// devIndicatorPaths are files/directories whose presence in the working
// directory suggests kgctl is running from a source checkout rather than
// an installed binary.
var devIndicatorPaths = []string{".env", "go.mod", "Makefile"}

// DetectMode infers the deployment mode from KG_MODE, CI environment
// variables, and then the presence of source-tree markers in the working
// directory, falling back to ModePackaged when none of those match.
func DetectMode() DeploymentMode {
	if mode := os.Getenv("KG_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "development", "dev":
			return ModeDevelopment
		case "packaged", "pkg", "production", "prod":
			return ModePackaged
		case "ci", "cicd":
			return ModeCI
		}
	}

	if isCI() {
		return ModeCI
	}

	for _, path := range devIndicatorPaths {
		if _, err := os.Stat(path); err == nil {
			return ModeDevelopment
		}
	}

	return ModePackaged
}

func isCI() bool {
	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}

// IsDevelopment reports whether the process is running from a source
// checkout.
func IsDevelopment() bool {
	return DetectMode() == ModeDevelopment
}

// IsPackaged reports whether the process is an installed binary outside
// any source tree.
func IsPackaged() bool {
	return DetectMode() == ModePackaged
}

// IsCI reports whether the process is running inside a CI pipeline.
func IsCI() bool {
	return DetectMode() == ModeCI
}

// GetMode returns the current deployment mode.
func GetMode() DeploymentMode {
	return DetectMode()
}

func (m DeploymentMode) String() string {
	return string(m)
}

// AllowsDevelopmentDefaults reports whether .env-sourced Neo4j credentials
// are acceptable for this mode (only a local checkout talking to local
// containers).
func (m DeploymentMode) AllowsDevelopmentDefaults() bool {
	return m == ModeDevelopment
}

// RequiresSecureCredentials reports whether this mode must resolve
// credentials through the keychain/config-file/prompt chain rather than a
// bare .env file.
func (m DeploymentMode) RequiresSecureCredentials() bool {
	return m == ModePackaged || m == ModeCI
}

// AllowsInteractivePrompts reports whether it is acceptable to block on a
// no-echo password prompt when a credential is otherwise missing.
func (m DeploymentMode) AllowsInteractivePrompts() bool {
	return m == ModePackaged
}

// RequiresStrictValidation reports whether config loading should fail fast
// on a missing credential instead of attempting a fallback chain.
func (m DeploymentMode) RequiresStrictValidation() bool {
	return m == ModeCI
}

// Description is a one-line human-readable label for this mode, printed by
// `kgctl mode`.
func (m DeploymentMode) Description() string {
	switch m {
	case ModeDevelopment:
		return "local source checkout"
	case ModePackaged:
		return "installed binary"
	case ModeCI:
		return "CI pipeline"
	default:
		return "unknown mode"
	}
}

// ConfigSource describes where this mode expects Neo4j credentials to come
// from, printed by `kgctl mode`.
func (m DeploymentMode) ConfigSource() string {
	switch m {
	case ModeDevelopment:
		return ".env file"
	case ModePackaged:
		return "environment variable, OS keychain, config file, or interactive prompt"
	case ModeCI:
		return "environment variables only"
	default:
		return "unknown"
	}
}

// ABOUTME: XDG-compliant path resolution for credentials and tokens
// ABOUTME: Supports env var overrides, XDG dirs, and sensible defaults

package auth

import (
	"os"
	"path/filepath"
)

const (
	appName            = "gchat-mcp"
	defaultCredentials = "credentials.json"
	defaultToken       = "token.json"
	configSubdir       = ".config"
	dataSubdir         = ".local/share"

	// CredentialsPathEnv overrides the OAuth client credentials location.
	CredentialsPathEnv = "GCHAT_MCP_CREDENTIALS_PATH"
	// TokenPathEnv overrides the Token Record location.
	TokenPathEnv = "GCHAT_MCP_TOKEN_PATH"
)

// GetCredentialsPath returns the path to credentials.json
// Priority: GCHAT_MCP_CREDENTIALS_PATH > XDG_CONFIG_HOME > ~/.config
// Empty env vars are treated as unset. XDG vars must be absolute per the XDG
// Base Directory rules; relative ones are ignored.
func GetCredentialsPath() string {
	if override := os.Getenv(CredentialsPathEnv); override != "" {
		return filepath.Clean(override)
	}
	return xdgPath("XDG_CONFIG_HOME", configSubdir, defaultCredentials)
}

// GetTokenPath returns the path to token.json
// Priority: GCHAT_MCP_TOKEN_PATH > XDG_DATA_HOME > ~/.local/share
func GetTokenPath() string {
	if override := os.Getenv(TokenPathEnv); override != "" {
		return filepath.Clean(override)
	}
	return xdgPath("XDG_DATA_HOME", dataSubdir, defaultToken)
}

func xdgPath(envVar, homeSubdir, file string) string {
	base := os.Getenv(envVar)
	if base == "" || !filepath.IsAbs(base) {
		home, err := os.UserHomeDir()
		if err != nil {
			return file // fallback to cwd
		}
		base = filepath.Join(home, homeSubdir)
	}
	return filepath.Clean(filepath.Join(base, appName, file))
}

// EnsureDir creates the parent directory for a file path if it doesn't exist.
// Directories are created with 0700 permissions (owner read/write/execute only).
func EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0700)
}

// Package auth resolves the password used to talk to a password-protected server.
//
// Credentials are sourced in the following priority order:
//  1. Environment variable: OCDIAG_SERVER_PASSWORD
//  2. Environment variable: OPENCODE_SERVER_PASSWORD (shared with the server itself)
//  3. OS Keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service)
package auth

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in OS keyring storage.
	keyringService = "ocdiag"
	// keyringUser is the user/account name used in OS keyring storage.
	keyringUser = "server-password"
	// envVarName is the primary environment variable for the password.
	envVarName = "OCDIAG_SERVER_PASSWORD"
	// serverEnvVarName is the variable the server reads for the same purpose.
	serverEnvVarName = "OPENCODE_SERVER_PASSWORD"
	// usernameEnvVarName overrides DefaultUsername.
	usernameEnvVarName = "OPENCODE_SERVER_USERNAME"

	// DefaultUsername is the basic-auth user the server expects.
	DefaultUsername = "opencode"
)

// CredentialSource indicates where credentials were found.
type CredentialSource string

// Credential source constants identify where credentials were loaded from.
const (
	SourceEnv     CredentialSource = "environment variable"
	SourceKeyring CredentialSource = "keyring"
	SourceNone    CredentialSource = ""
)

// Credentials is a basic-auth pair for the server.
type Credentials struct {
	Username string
	Password string
	Source   CredentialSource
}

// Empty reports whether no password was found.
func (c Credentials) Empty() bool {
	return c.Password == ""
}

// GetCredentials returns the server credentials and their source.
// A zero Credentials value means the server is assumed to be unprotected.
func GetCredentials() Credentials {
	username := strings.TrimSpace(os.Getenv(usernameEnvVarName))
	if username == "" {
		username = DefaultUsername
	}

	for _, name := range []string{envVarName, serverEnvVarName} {
		if pw := os.Getenv(name); pw != "" {
			return Credentials{Username: username, Password: pw, Source: SourceEnv}
		}
	}

	if pw, err := keyring.Get(keyringService, keyringUser); err == nil && pw != "" {
		return Credentials{Username: username, Password: pw, Source: SourceKeyring}
	}

	return Credentials{Username: username, Source: SourceNone}
}

package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "gencache"

// upstreamAccount is the fixed keychain account name used for the single
// upstream credential gencache manages.
const upstreamAccount = "upstream"

// Vault provides secure storage for the upstream API credential using the
// OS keychain, with fallback to an environment variable.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores the upstream API key in the OS keychain.
func (v *Vault) Set(key string) error {
	return keyring.Set(serviceName, upstreamAccount, key)
}

// Get retrieves the upstream API key. It first checks the OS keychain,
// then falls back to the environment variable GENCACHE_UPSTREAM_KEY.
func (v *Vault) Get() (string, error) {
	secret, err := keyring.Get(serviceName, upstreamAccount)
	if err == nil && secret != "" {
		return secret, nil
	}

	const envKey = "GENCACHE_UPSTREAM_KEY"
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no upstream key found: not in keychain and %s not set", envKey)
}

// Delete removes the upstream API key from the OS keychain.
func (v *Vault) Delete() error {
	return keyring.Delete(serviceName, upstreamAccount)
}

// ResolveKeyRef parses a key reference and retrieves the corresponding
// credential. Supported formats:
//   - "keyring://gencache/upstream" (OS keychain)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
//   - any other non-empty string is treated as a literal credential value
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if keyRef == "" {
		return "", nil
	}

	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://gencache/upstream\")", keyRef)
		}
		return v.Get()
	}

	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	// No recognized scheme: treat as a literal value.
	return keyRef, nil
}

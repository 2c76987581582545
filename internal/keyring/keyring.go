// Package keyring stores provider API keys in the OS keychain.
package keyring

import (
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

const serviceName = "claw"

// Get retrieves the API key stored for a provider (e.g. "anthropic").
func Get(provider string) (string, error) {
	key, err := zkr.Get(serviceName, provider)
	if err != nil {
		return "", fmt.Errorf("keychain get %s: %w", provider, err)
	}
	return key, nil
}

// Set stores an API key for a provider in the OS keychain.
func Set(provider, key string) error {
	return zkr.Set(serviceName, provider, key)
}

// Delete removes a provider's API key from the OS keychain.
func Delete(provider string) error {
	return zkr.Delete(serviceName, provider)
}

// Available returns true if the OS keychain is functional.
// Returns false if CLAW_KEYRING_DISABLED=1 is set (opt-in for headless/CI/Docker).
// Otherwise probes the keychain with a test write/delete cycle.
func Available() bool {
	if os.Getenv("CLAW_KEYRING_DISABLED") == "1" {
		return false
	}
	testService := "claw-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}

package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/sealfs/sealfs/cfg"
	"github.com/sealfs/sealfs/internal/keyring"
)

// passwordKeyringSuffix is the fixed suffix sealfs stores its mount
// password under; the keyring-service flag supplies the varying part
// (the service name), so one OS keyring can hold passwords for several
// sealfs data directories under distinct services.
const passwordKeyringSuffix = "password"

// keyringFactory is overridden in tests so resolvePassword can be
// exercised without touching a real OS credential store.
var keyringFactory = func() keyring.Keyring { return keyring.OS{} }

// resolvePassword implements spec §6's password-sourcing fallback chain:
// an explicit environment variable first, then the OS keyring if a
// service name was configured, then an interactive terminal prompt.
func resolvePassword(config *cfg.Config) ([]byte, error) {
	if config.PasswordEnvVar != "" {
		if v, ok := os.LookupEnv(config.PasswordEnvVar); ok {
			return []byte(v), nil
		}
	}

	if config.KeyringService != "" {
		pw, err := keyringFactory().Get(config.KeyringService, passwordKeyringSuffix)
		if err == nil {
			return pw, nil
		}
		if err != keyring.ErrNotFound {
			return nil, fmt.Errorf("reading keyring: %w", err)
		}
	}

	return promptPassword("Password: ")
}

// promptPassword reads a password from the controlling terminal without
// echoing it, the way ssh and sudo prompt.
func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return pw, nil
}

package app

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"skein-go/internal/config"
	"skein-go/internal/encryption"
)

// PassphraseEnv, when set, supplies the cache passphrase without a prompt.
const PassphraseEnv = "SKEIN_PASSPHRASE"

// ReadPassphrase returns the passphrase from PassphraseEnv, or prompts for it
// on the terminal without echo.
func ReadPassphrase(prompt string) (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for a passphrase: set %s", PassphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// InitKeys generates the cache encryption keys described by cfg.
func InitKeys(cfg config.EncryptionConfig, passphrase string) error {
	keys, err := encryption.NewKeyManagerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating key manager: %w", err)
	}
	if keys == nil {
		return errors.New("encryption is disabled: set encryption.type = \"age\" in the config")
	}
	if keys.IsConfigured() {
		return errors.New("encryption keys already exist")
	}
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	return keys.Setup(passphrase)
}

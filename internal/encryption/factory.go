package encryption

import (
	"fmt"

	"skein-go/internal/config"
	"skein-go/internal/skein"
)

// NewKeyManagerFromConfig creates a KeyManager based on the configuration
// type. It returns nil when encryption is disabled.
func NewKeyManagerFromConfig(cfg config.EncryptionConfig) (skein.KeyManager, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeKeys(cfg), nil
	case "test":
		return NewTestKeys(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

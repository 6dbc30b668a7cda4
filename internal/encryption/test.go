package encryption

import (
	"bytes"
	"fmt"

	"skein-go/internal/skein"
)

// testHeader is prepended by TestCipher so sealed output clearly differs from
// plaintext while staying deterministic and reversible.
var testHeader = []byte("SKNENC\x00\x00")

// TestKeys is a KeyManager for tests. It needs no key files.
type TestKeys struct {
	setupCalled bool
}

var _ skein.KeyManager = (*TestKeys)(nil)

func NewTestKeys() *TestKeys {
	return &TestKeys{}
}

func (k *TestKeys) Setup(passphrase string) error {
	k.setupCalled = true
	return nil
}

func (k *TestKeys) Unlock(passphrase string) (skein.Cipher, error) {
	return TestCipher{}, nil
}

func (k *TestKeys) IsConfigured() bool { return true }

// TestCipher prepends and strips a fixed header. It provides no secrecy.
type TestCipher struct{}

var _ skein.Cipher = TestCipher{}

func (TestCipher) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plaintext))
	out = append(out, testHeader...)
	return append(out, plaintext...), nil
}

func (TestCipher) Open(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return append([]byte(nil), ciphertext[len(testHeader):]...), nil
}

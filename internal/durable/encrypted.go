package durable

import (
	"context"
	"fmt"

	"skein-go/internal/skein"
)

// EncryptedStore seals every value before it reaches the wrapped store and
// opens it on the way back. Keys are left in the clear so listing and
// cleanup keep working. Usage reports the sealed size.
type EncryptedStore struct {
	inner  skein.DurableStore
	cipher skein.Cipher
}

// NewEncryptedStore wraps inner with cipher.
func NewEncryptedStore(inner skein.DurableStore, cipher skein.Cipher) *EncryptedStore {
	return &EncryptedStore{inner: inner, cipher: cipher}
}

func (s *EncryptedStore) Name() string { return s.inner.Name() }

func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	sealed, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	value, err := s.cipher.Open(sealed)
	if err != nil {
		return nil, false, fmt.Errorf("opening %s: %w: %v", key, skein.ErrCorruptEntry, err)
	}
	return value, true, nil
}

func (s *EncryptedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("sealing %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *EncryptedStore) Keys(ctx context.Context) ([]string, error) {
	return s.inner.Keys(ctx)
}

func (s *EncryptedStore) Usage(ctx context.Context) (int64, error) {
	return s.inner.Usage(ctx)
}

func (s *EncryptedStore) Close() error {
	return s.inner.Close()
}

// Compile-time check that EncryptedStore implements skein.DurableStore.
var _ skein.DurableStore = (*EncryptedStore)(nil)

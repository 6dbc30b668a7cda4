package skein

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuotaExceeded is returned by a SyncStore when a write would exceed its byte cap.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrSchemaVersionMismatch marks a persisted entry written by another schema version.
	ErrSchemaVersionMismatch = errors.New("cache entry schema version mismatch")

	// ErrCorruptEntry marks a persisted entry that cannot be decoded or is missing a chunk.
	ErrCorruptEntry = errors.New("corrupt cache entry")

	// ErrEntryExpired marks a persisted entry older than its TTL.
	ErrEntryExpired = errors.New("cache entry expired")

	// ErrBatchTooLarge is returned when a remote batch call is given more ids than allowed.
	ErrBatchTooLarge = errors.New("batch exceeds remote id limit")
)

// TransientFetchError is a failed remote call (network blip, remote throttling,
// server error). The ids involved stay unresolved and may be retried later.
type TransientFetchError struct {
	Op         string
	URIs       []string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if len(e.URIs) > 0 {
		fmt.Fprintf(&b, " for %d id(s)", len(e.URIs))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var tfe *TransientFetchError
	return errors.As(err, &tfe)
}

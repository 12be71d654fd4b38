package state

import (
	"errors"
	"fmt"
)

var (
	// ErrBootstrapRequired means no document existed; a placeholder was written
	// and the operator has to fill it in before the bot can start.
	ErrBootstrapRequired = errors.New("state document bootstrap required")
	// ErrIncompleteDocument means required identity fields are empty.
	ErrIncompleteDocument = errors.New("state document is incomplete")
	// ErrPlaceholderCredentials means the bootstrap placeholders were never edited.
	ErrPlaceholderCredentials = errors.New("state document still holds placeholder values")
	// ErrNotLoaded is returned by mutations before Load succeeded.
	ErrNotLoaded = errors.New("state document not loaded")
)

// StoreWriteError reports a failed persist. The in-memory document still holds
// the change.
type StoreWriteError struct {
	Path string
	Err  error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("persist state document %s: %v", e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// IsStoreWriteError reports whether err is a failed persist.
func IsStoreWriteError(err error) bool {
	if err == nil {
		return false
	}

	var target *StoreWriteError
	return errors.As(err, &target)
}

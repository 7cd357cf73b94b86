package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery         = errors.New("invalid query")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrRetrievalFailed      = errors.New("retrieval failed")
	ErrTemporary            = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

type errString string

func (e errString) Error() string { return string(e) }

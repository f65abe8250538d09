package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalid      = errors.New("invalid")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")
	ErrEmbedding    = errors.New("embedding failed")
	ErrRerank       = errors.New("rerank failed")
	ErrStore        = errors.New("store failed")
)

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// Wrap attaches kind to err unless err already carries it. ErrNotFound and
// ErrInvalid pass through untouched so callers keep the more specific kind.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

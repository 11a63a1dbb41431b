package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidKey    = errors.New("invalid pool key")
	ErrInvalidConfig = errors.New("invalid config")

	ErrInvalidBackend  = errors.New("invalid backend")
	ErrDataStoreAccess = errors.New("data store read/write error")
	ErrNotifications   = errors.New("change notifications unavailable")

	ErrGeneratorConfig = errors.New("generator not configured")
	ErrGeneration      = errors.New("question generation failed")
	ErrMalformedOutput = errors.New("malformed generator output")

	ErrPublish = errors.New("event publish failed")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}

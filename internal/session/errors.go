package session

import (
	"errors"
	"fmt"
)

// EmptyContentError is reported when a generation ends without any
// non-whitespace text.
type EmptyContentError struct{}

func (*EmptyContentError) Error() string { return "Aucun contenu reçu" }

// ErrEmptyContent is the EmptyContentError value; compare with errors.Is.
var ErrEmptyContent error = &EmptyContentError{}

// DefaultGenerationError is shown when the fallback payload carries neither
// a story nor an error message.
const DefaultGenerationError = "Erreur inconnue"

// TransportError covers failures to open or read the response, and responses
// whose content type is neither a text stream nor a JSON payload.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// GenerationError is an error reported by the upstream itself through the
// JSON fallback payload.
type GenerationError struct {
	StatusCode int
	Message    string
}

func (e *GenerationError) Error() string {
	return "Oups… " + e.Message
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsGeneration reports whether err is a GenerationError.
func IsGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

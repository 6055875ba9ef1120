package wire

import (
	"errors"
	"fmt"

	"github.com/go-json-experiment/json/jsontext"
)

var (
	// ErrMalformedMessage covers unparseable lines, wrong types at known
	// fields and structurally impossible messages. Callers log and skip.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownOperation is returned for an op code this client does not handle.
	ErrUnknownOperation = errors.New("unknown operation")

	errStop = errors.New("stop")
)

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func typeError(field string, got jsontext.Kind, want string) error {
	return fmt.Errorf("field %s: got %v want %s", field, got, want)
}

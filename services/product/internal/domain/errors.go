package domain

import (
	"errors"
	"strings"
)

var ErrProductNotFound = errors.New("product not found")

// ValidationError lists every rule a request broke.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

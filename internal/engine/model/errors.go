// internal/engine/model/errors.go
package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidConfiguration = errors.New("invalid extraction configuration")

// ConfigurationError lists every problem found while preparing a
// configuration. A configuration with problems is never executed.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", ErrInvalidConfiguration, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %s", ErrInvalidConfiguration, len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

func (e *ConfigurationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigurationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

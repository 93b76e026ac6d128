package meshsdf

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a problem with the inputs of a run that is
// detected before any query is evaluated: an unknown winding method, a mesh
// without usable triangles or a triangle referencing a missing vertex.
// A run that fails with a ConfigurationError produces no results.
type ConfigurationError struct {
	msg string
	err error
}

func (e *ConfigurationError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

// Unwrap returns the underlying cause, if any.
func (e *ConfigurationError) Unwrap() error { return e.err }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

func configWrap(err error, msg string) error {
	return &ConfigurationError{msg: msg, err: err}
}

// IsConfigurationError returns true if err or any error it wraps
// is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

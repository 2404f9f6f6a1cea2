package trace

import (
	"errors"
	"fmt"
)

// ErrConfiguration is returned, before any tracing work, for an invalid
// combination of options.
var ErrConfiguration = errors.New("invalid tracing configuration")

// ConfigError describes why a configuration was rejected.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

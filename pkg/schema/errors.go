package schema

import (
	"fmt"

	"github.com/surrealdb/gqlcache.go/pkg/constants"
)

// ConfigurationError reports schema registry misuse: an unknown type or field,
// or a selection that does not fit the schema. It is meant to be fatal at startup.
type ConfigurationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s.%s: %s", constants.ErrConfiguration, e.Type, e.Field, e.Reason)
	case e.Type != "":
		return fmt.Sprintf("%s: %s: %s", constants.ErrConfiguration, e.Type, e.Reason)
	default:
		return fmt.Sprintf("%s: %s", constants.ErrConfiguration, e.Reason)
	}
}

func (e *ConfigurationError) Unwrap() error {
	return constants.ErrConfiguration
}

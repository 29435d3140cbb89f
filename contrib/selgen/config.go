package selgen

import (
	"fmt"
	"path/filepath"
)

// Config holds the inputs and output of one compiler run.
type Config struct {
	// SchemaPath is the SDL file operations are checked against.
	SchemaPath string
	// Documents are .graphql files or directories searched for them.
	Documents []string
	// OutputDir receives one <OperationName>.json per operation.
	OutputDir string

	Verbose bool
}

func NewConfig() *Config {
	return &Config{OutputDir: "__generated__"}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SchemaPath == "" {
		return fmt.Errorf("schema path is required")
	}
	if len(c.Documents) == 0 {
		return fmt.Errorf("at least one document is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

// ArtifactPath is where the artifact of the named operation is written.
func (c *Config) ArtifactPath(operation string) string {
	return filepath.Join(c.OutputDir, operation+".json")
}

package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

// ValidateExecutionConfig reports every problem of an execution config at
// once.
func ValidateExecutionConfig(config ExecutionConfig) error {
	collection := errors.NewErrorCollection()

	if config.ExecutablePath == "" {
		collection.Add(errors.NewValidationError("executable path is required", nil))
	} else if info, err := os.Stat(config.ExecutablePath); err != nil {
		collection.Add(errors.NewValidationError("executable not found", err).WithContext("executable_path", config.ExecutablePath))
	} else if info.IsDir() {
		collection.Add(errors.NewValidationError("executable path is a directory", nil).WithContext("executable_path", config.ExecutablePath))
	}

	if dir := config.WorkingDirectory; dir != "" {
		switch info, err := os.Stat(dir); {
		case !filepath.IsAbs(dir):
			collection.Add(errors.NewValidationError("working directory must be an absolute path", nil).WithContext("working_directory", dir))
		case err != nil:
			collection.Add(errors.NewValidationError("working directory not accessible", err).WithContext("working_directory", dir))
		case !info.IsDir():
			collection.Add(errors.NewValidationError("working directory is not a directory", nil).WithContext("working_directory", dir))
		}
	}

	for name := range config.Environment {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			collection.Add(errors.NewValidationError("invalid environment variable name", nil).WithContext("name", name))
		}
	}

	if config.WaitDelay < 0 {
		collection.Add(errors.NewValidationError("wait delay cannot be negative", nil))
	}

	return collection.ToError()
}

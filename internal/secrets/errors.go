// Package secrets scrubs secrets out of tool output before it is persisted
// into task records, using the Gitleaks SDK.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

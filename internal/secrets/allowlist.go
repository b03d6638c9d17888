package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is the per-project allowlist filename, looked up in
// the project root.
const ProjectAllowlistFile = ".stagehand-allowlist.toml"

// Allowlist contains path and content regex patterns to exclude from secret
// detection. Tool output legitimately contains strings that look like
// secrets (example keys in docs, test fixtures); the allowlist keeps those
// readable in failure records.
type Allowlist struct {
	Paths   []string // File path regex patterns to ignore
	Regexes []string // Content regex patterns to ignore
}

// LoadAllowlists loads and merges project and user allowlists using union
// (OR) logic. Missing files are silently ignored. Invalid TOML or regex
// patterns return errors.
//
// projectDir: directory containing .stagehand-allowlist.toml (empty to skip)
// userPath: full path to user allowlist file (empty to skip)
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{
		Paths:   []string{},
		Regexes: []string{},
	}

	if projectDir != "" {
		projectFile := filepath.Join(projectDir, ProjectAllowlistFile)
		if project, err := loadTOML(projectFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		}
	}

	if userPath != "" {
		if user, err := loadTOML(userPath); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		}
	}

	return merged, nil
}

// loadTOML loads and validates a single allowlist file.
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err // os.IsNotExist can identify this
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Fail fast on bad patterns so they never reach the detector
	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}

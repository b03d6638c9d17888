package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// finding is a detected secret with location information.
type finding struct {
	ruleID   string
	line     int
	startCol int
	endCol   int
	match    string
}

// Scrubber detects and redacts secrets in text destined for task records.
// The Gitleaks detector is built once (its default config carries several
// hundred rules) and reused for every scrub.
//
// A nil *Scrubber is valid and passes content through unchanged.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScrubber builds a scrubber with the default Gitleaks rules, minus
// whatever the allowlist excludes. allowlist may be nil.
func NewScrubber(allowlist *Allowlist) (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building secret detector: %w", err)
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Scrubber{detector: detector}, nil
}

// Scrub replaces detected secrets with [REDACTED:rule-id:preview] markers
// and reports how many were replaced. Markers keep the rule id plus a
// 4-character preview so a human can still recognize what was removed.
func (s *Scrubber) Scrub(content string) (string, int) {
	if s == nil || content == "" {
		return content, 0
	}

	// Gitleaks does not document DetectString as safe for concurrent use;
	// scrubs only happen on failure paths, so serialize them.
	s.mu.Lock()
	gitleaksFindings := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(gitleaksFindings) == 0 {
		return content, 0
	}

	findings := make([]finding, 0, len(gitleaksFindings))
	for _, f := range gitleaksFindings {
		findings = append(findings, finding{
			ruleID:   f.RuleID,
			line:     f.StartLine,
			startCol: f.StartColumn,
			endCol:   f.EndColumn,
			match:    f.Secret,
		})
	}

	return replaceFindings(content, findings), len(findings)
}

// replaceFindings replaces secrets with redaction markers. Works backwards
// through findings so earlier indices stay valid.
func replaceFindings(content string, findings []finding) string {
	sorted := make([]finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].line != sorted[j].line {
			return sorted[i].line > sorted[j].line
		}
		return sorted[i].startCol > sorted[j].startCol
	})

	lines := strings.Split(content, "\n")

	for _, f := range sorted {
		if f.line < 1 || f.line > len(lines) {
			continue
		}

		line := lines[f.line-1]
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.ruleID, extractPreview(f.match, 4))

		// Column indices can drift on multi-byte lines; fall back to a
		// plain replace so the secret never survives.
		if f.startCol >= 0 && f.endCol <= len(line) && strings.Contains(line[f.startCol:f.endCol], f.match) {
			lines[f.line-1] = line[:f.startCol] + marker + line[f.endCol:]
		} else if f.match != "" {
			lines[f.line-1] = strings.Replace(line, f.match, marker, 1)
		}
	}

	return strings.Join(lines, "\n")
}

// extractPreview returns the first n characters of a string.
func extractPreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are pre-validated in loadTOML; a compile failure here is a bug.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	globalAllowlist := &gitleaksConfig.Allowlist{
		Description: "stagehand user/project allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		globalAllowlist.Paths = append(globalAllowlist.Paths, (*gitleaksRegexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		globalAllowlist.Regexes = append(globalAllowlist.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	globalAllowlist.StopWords = append(globalAllowlist.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, globalAllowlist)
}

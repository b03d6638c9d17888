package review

import (
	"regexp"
	"strings"
)

// Free-text parsing is inherently fuzzy; the heuristics here are part of
// the interface merge and dedup depend on, so they stay pure and change
// only with their tests.

var (
	// Items start at bullet or numbered-list markers.
	itemStartPattern = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	// file paths like pkg/foo/bar.go or x.py, optionally with :line.
	locationPattern = regexp.MustCompile(`\b([\w./-]+/)?[\w-]+\.[A-Za-z]{1,8}(?::\d+)?\b`)
	// explicit severity tags like [critical] or (major).
	severityTagPattern = regexp.MustCompile(`(?i)[\[(](critical|major|high|medium|warning|minor|low|info)[\])]`)
	externalEvidence   = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d+\b|https?://`)
	proposalPattern    = regexp.MustCompile(`(?i)(?:suggest(?:ion|ed)?|fix|recommend(?:ation|ed)?)\s*:\s*(.+)`)
)

// Keyword sets for severity inference. Word-bounded so "overflow" does
// not read as low and "highlight" does not read as high.
var (
	sevCriticalWords = regexp.MustCompile(`(?i)\bcritical\b`)
	sevMajorWords    = regexp.MustCompile(`(?i)\b(?:major|high)\b`)
	sevMediumWords   = regexp.MustCompile(`(?i)\b(?:medium|warning)\b`)
	sevLowWords      = regexp.MustCompile(`(?i)\b(?:low|info)\b`)
)

// InferSeverity maps free text onto the severity scale by keyword
// priority: critical beats major/high beats medium/warning beats
// low/info; anything else is minor.
func InferSeverity(text string) Severity {
	switch {
	case sevCriticalWords.MatchString(text):
		return SeverityCritical
	case sevMajorWords.MatchString(text):
		return SeverityMajor
	case sevMediumWords.MatchString(text):
		return SeverityMedium
	case sevLowWords.MatchString(text):
		return SeverityLow
	}
	return SeverityMinor
}

// ParseFindings extracts structured findings from a lens's free-text
// output. Deterministic: identical input yields identical findings in
// identical order.
func ParseFindings(lens, text string) []RawFinding {
	var findings []RawFinding
	for _, item := range splitItems(text) {
		f := parseItem(lens, item)
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

// splitItems groups the text into list items; continuation lines attach
// to the item above them. Text before the first marker is ignored
// (preamble prose, not findings).
func splitItems(text string) []string {
	var items []string
	var current strings.Builder
	inItem := false

	flush := func() {
		if inItem && strings.TrimSpace(current.String()) != "" {
			items = append(items, current.String())
		}
		current.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if itemStartPattern.MatchString(line) {
			flush()
			inItem = true
			current.WriteString(itemStartPattern.ReplaceAllString(line, ""))
			continue
		}
		if inItem {
			if strings.TrimSpace(line) == "" {
				flush()
				inItem = false
				continue
			}
			current.WriteString(" ")
			current.WriteString(strings.TrimSpace(line))
		}
	}
	flush()
	return items
}

func parseItem(lens, item string) *RawFinding {
	issue := strings.TrimSpace(item)
	if issue == "" {
		return nil
	}

	f := &RawFinding{Lens: lens, Issue: issue}

	if loc := locationPattern.FindString(item); loc != "" {
		if file, line, ok := strings.Cut(loc, ":"); ok {
			f.TargetFile = file
			f.TargetLocation = line
		} else {
			f.TargetFile = loc
		}
	}

	if tag := severityTagPattern.FindStringSubmatch(item); tag != nil {
		f.Severity = InferSeverity(tag[1])
		// The tag is metadata, not part of the issue text.
		f.Issue = strings.TrimSpace(severityTagPattern.ReplaceAllString(issue, ""))
	} else {
		f.Severity = InferSeverity(item)
	}

	if m := proposalPattern.FindStringSubmatch(item); m != nil {
		f.Proposal = strings.TrimSpace(m[1])
	}

	f.UsesExternalEvidence = externalEvidence.MatchString(item)
	if f.TargetFile != "" && f.TargetLocation != "" {
		f.Confidence = "high"
	} else {
		f.Confidence = "medium"
	}
	return f
}

// Package classify maps failed tool invocations to error classes and
// stable, normalized failure signatures.
//
// Classification precedence: a gate-reported violation beats the
// exit-status table, which beats stderr keyword matching, which falls
// through to unknown.
package classify

import "strings"

// Class is the error taxonomy for failed stage attempts.
type Class string

const (
	Transient         Class = "transient"
	PromptTooLarge    Class = "prompt_too_large"
	Auth              Class = "auth"
	Tooling           Class = "tooling"
	ScopeViolation    Class = "scope_violation"
	ContractViolation Class = "contract_violation"
	Unknown           Class = "unknown"

	// SessionMismatch sits outside the generic taxonomy: always fatal,
	// never retried. It appears in failure records but is produced by the
	// session manager, not by Classify.
	SessionMismatch Class = "session_mismatch"
)

// Valid returns true for classes Classify can produce.
func (c Class) Valid() bool {
	switch c {
	case Transient, PromptTooLarge, Auth, Tooling, ScopeViolation, ContractViolation, Unknown:
		return true
	}
	return false
}

// ExitStatus is a tool invocation outcome, normalized at the adapter
// boundary.
type ExitStatus string

const (
	ExitSuccess        ExitStatus = "success"
	ExitMissingBinary  ExitStatus = "missing_binary"
	ExitMissingInput   ExitStatus = "missing_input"
	ExitGeneralFailure ExitStatus = "general_failure"
	ExitTimeout        ExitStatus = "timeout"
	ExitInputTooLarge  ExitStatus = "input_too_large"
)

// Input carries everything classification needs about one failed attempt.
type Input struct {
	Status   ExitStatus
	ExitCode int
	Stderr   string

	// GateViolation is the violation class reported by the gate validator
	// (ScopeViolation or ContractViolation), empty when the gate passed or
	// did not run.
	GateViolation Class
}

// Result is a classified failure.
type Result struct {
	Class     Class
	Signature string
}

// Keyword tables for stderr matching, checked in order: auth beats
// missing-binary beats network. All matching is case-insensitive.
var (
	authKeywords = []string{
		"unauthorized",
		"authentication failed",
		"invalid api key",
		"api key not found",
		"token expired",
		"credential",
		"permission denied (http 401",
		"401",
		"403",
	}

	missingBinaryKeywords = []string{
		"command not found",
		"executable file not found",
		"fork/exec",
	}

	networkKeywords = []string{
		"connection refused",
		"connection reset",
		"timed out",
		"timeout",
		"temporary failure",
		"rate limit",
		"too many requests",
		"429",
		"service unavailable",
		"bad gateway",
		"dns",
		"tls handshake",
		"unexpected eof",
	}
)

// Classify determines the error class for a failed attempt and computes
// its normalized signature.
func Classify(in Input) Result {
	class := classOf(in)
	return Result{
		Class:     class,
		Signature: Signature(class, in.Stderr),
	}
}

func classOf(in Input) Class {
	// Gate verdicts carry the most context; they win outright.
	if in.GateViolation == ScopeViolation || in.GateViolation == ContractViolation {
		return in.GateViolation
	}

	switch in.Status {
	case ExitTimeout:
		return Transient
	case ExitMissingBinary:
		return Tooling
	case ExitInputTooLarge:
		return PromptTooLarge
	}

	stderr := strings.ToLower(in.Stderr)
	if matchesAny(stderr, authKeywords) {
		return Auth
	}
	if matchesAny(stderr, missingBinaryKeywords) {
		return Tooling
	}
	if matchesAny(stderr, networkKeywords) {
		return Transient
	}

	return Unknown
}

func matchesAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

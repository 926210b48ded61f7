// Package coreerr defines the typed error taxonomy the core surfaces to the
// REST boundary (spec §7). The gitrepo facade, the validator and the lock
// report their failures as these kinds, so the REST mapper can switch on Kind
// instead of string-matching messages. Some filesystem failures in
// repomanager and raw flock(2) errors from the lock package are returned as
// plain errors; the REST mapper answers those, like any error without a
// mapped Kind, with 500.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy the core surfaces.
type Kind string

const (
	KindRepoDoesNotExist     Kind = "RepoDoesNotExist"
	KindInvalidBranch        Kind = "InvalidBranch"
	KindFileNotFound         Kind = "FileNotFound"
	KindRevisionNotFound     Kind = "RevisionNotFound"
	KindOptimisticConcurrency Kind = "OptimisticConcurrency"
	KindLocked               Kind = "Locked"
	KindFileTooLarge         Kind = "FileTooLarge"
	KindNotABlob             Kind = "NotABlob"
	KindBadConfigValue       Kind = "BadConfigValue"
	KindValidationFailed     Kind = "ValidationFailed"
	KindGeneric              Kind = "Generic"
)

// CoreError is the error type every core component returns.
type CoreError struct {
	Kind    Kind
	Message string
	Cause   error

	// Violations carries per-field diagnostics for KindValidationFailed.
	Violations []Violation
}

// Violation is a single schema-validation diagnostic (spec §4.E).
type Violation struct {
	DataPath string `json:"dataPath"`
	Message  string `json:"message"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, coreerr.New(KindLocked, "")) match any CoreError of
// that Kind, regardless of message or cause.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// Convenience constructors mirroring spec §7.

func RepoDoesNotExist(name string) *CoreError {
	return New(KindRepoDoesNotExist, fmt.Sprintf("repository %q does not exist", name))
}

func InvalidBranch(name string) *CoreError {
	return New(KindInvalidBranch, fmt.Sprintf("branch %q does not exist", name))
}

func FileNotFound(path string) *CoreError {
	return New(KindFileNotFound, fmt.Sprintf("file %q not found", path))
}

func RevisionNotFound(revspec string) *CoreError {
	return New(KindRevisionNotFound, fmt.Sprintf("revision %q could not be resolved", revspec))
}

func OptimisticConcurrency(message string) *CoreError {
	if message == "" {
		message = "parent revision does not match the current branch head"
	}
	return New(KindOptimisticConcurrency, message)
}

func Locked() *CoreError {
	return New(KindLocked, "another transaction holds the repository lock")
}

func FileTooLarge(path string, size int64, limit int64) *CoreError {
	return New(KindFileTooLarge, fmt.Sprintf("file %q is %d bytes, exceeds the %d byte limit", path, size, limit))
}

func NotABlob(path string) *CoreError {
	return New(KindNotABlob, fmt.Sprintf("%q is not a file", path))
}

func BadConfigValue(key string) *CoreError {
	return New(KindBadConfigValue, fmt.Sprintf("unsupported config value type for key %q", key))
}

func ValidationFailed(violations []Violation) *CoreError {
	return &CoreError{Kind: KindValidationFailed, Message: "validation failed", Violations: violations}
}

func Generic(message string, cause error) *CoreError {
	return Wrap(KindGeneric, message, cause)
}

// Is* predicates used by the REST mapper (component G) and by callers that
// need to branch on error category without importing the Kind constants
// directly.

func kindOf(err error) (Kind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

func IsRepoDoesNotExist(err error) bool { k, ok := kindOf(err); return ok && k == KindRepoDoesNotExist }
func IsInvalidBranch(err error) bool    { k, ok := kindOf(err); return ok && k == KindInvalidBranch }
func IsFileNotFound(err error) bool     { k, ok := kindOf(err); return ok && k == KindFileNotFound }
func IsRevisionNotFound(err error) bool { k, ok := kindOf(err); return ok && k == KindRevisionNotFound }
func IsOptimisticConcurrency(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindOptimisticConcurrency
}
func IsLocked(err error) bool           { k, ok := kindOf(err); return ok && k == KindLocked }
func IsValidationFailed(err error) bool { k, ok := kindOf(err); return ok && k == KindValidationFailed }

// Package depoterr provides the closed, structured error taxonomy shared by
// every core component (spec §7). Errors carry enough context to be
// formatted for CLI output without re-deriving it from a bare string.
package depoterr

import "errors"

// Category classifies an error for reporting and for dispatch in the
// transaction engine's failure policy.
type Category string

const (
	CategoryRef        Category = "ref"
	CategoryResolve    Category = "resolve"
	CategoryDependency Category = "dependency"
	CategoryTrust      Category = "trust"
	CategoryRemote     Category = "remote"
	CategoryNetwork    Category = "network"
	CategoryStore      Category = "store"
	CategoryState      Category = "state"
	CategoryTransact   Category = "transaction"
)

// Code is a machine-readable, closed-set error code. These names are the
// taxonomy named in spec §7 — nothing outside this set is ever produced by
// the core.
type Code string

const (
	CodeNotInstalled      Code = "NotInstalled"
	CodeAlreadyInstalled  Code = "AlreadyInstalled"
	CodeInvalidRef        Code = "InvalidRef"
	CodeInvalidBranch     Code = "InvalidBranch"
	CodeInvalidConfigVal  Code = "InvalidConfigValue"
	CodeAmbiguousRef      Code = "AmbiguousRef"
	CodeMultipleMatches   Code = "MultipleMatches"
	CodeDependencyCycle   Code = "DependencyCycle"
	CodeGpgUntrusted      Code = "GpgUntrusted"
	CodeRemoteDisabled    Code = "RemoteDisabled"
	CodeRemoteMissing     Code = "RemoteMissing"
	CodeNetworkError      Code = "NetworkError"
	CodeStoreCorrupt      Code = "StoreCorrupt"
	CodeAborted           Code = "Aborted"
	CodeBusy              Code = "Busy"

	// CodeEOLRefused is not part of the closed taxonomy inherited verbatim
	// from the original tool; it backs the refuse-eol flag the resolver
	// exposes as an explicit addition for the ambiguous EOL-without-rebase
	// case (transaction.Flags.RefuseEOL).
	CodeEOLRefused Code = "EOLRefused"
)

// Error is the single structured error type produced by the core. It
// implements Is/Unwrap so callers can use errors.Is(err, depoterr.Aborted)
// style sentinels built with New below.
type Error struct {
	Category Category
	Code     Code
	Message  string
	Details  map[string]any
	Hint     string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Code: any two *Error values with the same Code are
// considered the same error for errors.Is purposes, regardless of message
// or detail differences.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail, WithHint and WithCause all return a copy: the package-level
// sentinels (NotInstalled, Aborted, ...) are shared values, and mutating a
// sentinel in place would corrupt it for every other caller and every
// concurrent transaction.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := e.clone()
	if cp.Details == nil {
		cp.Details = make(map[string]any)
	}
	cp.Details[key] = value
	return cp
}

func (e *Error) WithHint(hint string) *Error {
	cp := e.clone()
	cp.Hint = hint
	return cp
}

func (e *Error) WithCause(cause error) *Error {
	cp := e.clone()
	cp.Cause = cause
	return cp
}

func (e *Error) clone() *Error {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// New constructs a new *Error of the given code. category is implied by the
// code via categoryFor so call sites never get them out of sync.
func New(code Code, message string) *Error {
	return &Error{Category: categoryFor(code), Code: code, Message: message}
}

func categoryFor(code Code) Category {
	switch code {
	case CodeNotInstalled, CodeAlreadyInstalled:
		return CategoryState
	case CodeInvalidRef, CodeInvalidBranch, CodeInvalidConfigVal:
		return CategoryRef
	case CodeAmbiguousRef, CodeMultipleMatches:
		return CategoryResolve
	case CodeDependencyCycle, CodeEOLRefused:
		return CategoryDependency
	case CodeGpgUntrusted:
		return CategoryTrust
	case CodeRemoteDisabled, CodeRemoteMissing:
		return CategoryRemote
	case CodeNetworkError:
		return CategoryNetwork
	case CodeStoreCorrupt:
		return CategoryStore
	case CodeAborted, CodeBusy:
		return CategoryTransact
	default:
		return CategoryTransact
	}
}

// Sentinels for errors.Is comparisons against a specific class of failure,
// independent of message text.
var (
	NotInstalled       = New(CodeNotInstalled, "not installed")
	AlreadyInstalled   = New(CodeAlreadyInstalled, "already installed")
	DependencyCycle    = New(CodeDependencyCycle, "dependency cycle detected")
	GpgUntrusted       = New(CodeGpgUntrusted, "signature verification failed")
	Aborted            = New(CodeAborted, "transaction aborted")
	Busy               = New(CodeBusy, "installation is locked by another process")
	RemoteMissing      = New(CodeRemoteMissing, "no such remote")
	MultipleMatches    = New(CodeMultipleMatches, "ref matches more than one installation")
	AmbiguousRef       = New(CodeAmbiguousRef, "ref argument is ambiguous")
	InvalidConfigValue = New(CodeInvalidConfigVal, "invalid config value")
)

// IsAborted reports whether err is (or wraps) the Aborted sentinel. The CLI
// uses this to suppress stderr output for user-cancelled transactions.
func IsAborted(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeAborted
	}
	return false
}

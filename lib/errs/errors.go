package errs

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type Code uint64

const (
	CodeUnknown           Code = iota // 0: Unclassified failure.
	CodeInvalidSpec                   // 1: Malformed domain spec (e.g. zero shards, unknown engine).
	CodeSpecConflict                  // 2: Existing domain spec differs from the supplied one.
	CodeInvalidVersion                // 3: Path or id is not a version of the store.
	CodeVersionExists                 // 4: A complete version with this id already exists.
	CodeInvalidShardIndex             // 5: Shard index outside [0, numShards).
	CodeNotFound                      // 6: Shard has no valid engine state.
	CodeEngineIO                      // 7: Backend specific I/O failure.
	CodeLocked                        // 8: Another writer holds the domain lock.
)

func (c Code) String() string {
	switch c {
	case CodeInvalidSpec:
		return "InvalidSpec"
	case CodeSpecConflict:
		return "SpecConflict"
	case CodeInvalidVersion:
		return "InvalidVersion"
	case CodeVersionExists:
		return "VersionExists"
	case CodeInvalidShardIndex:
		return "InvalidShardIndex"
	case CodeNotFound:
		return "NotFound"
	case CodeEngineIO:
		return "EngineIO"
	case CodeLocked:
		return "Locked"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Sentinels (for errors.Is)
// --------------------------------------------------------------------------

var (
	ErrInvalidSpec       = New(CodeInvalidSpec, "")
	ErrSpecConflict      = New(CodeSpecConflict, "")
	ErrInvalidVersion    = New(CodeInvalidVersion, "")
	ErrVersionExists     = New(CodeVersionExists, "")
	ErrInvalidShardIndex = New(CodeInvalidShardIndex, "")
	ErrNotFound          = New(CodeNotFound, "")
	ErrEngineIO          = New(CodeEngineIO, "")
	ErrLocked            = New(CodeLocked, "")
)

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by all edb packages. It carries a Code
// for classification and as much location context as is known at the point
// of failure (domain root, version path, version id, shard index).
//
// Two errors match with errors.Is if their codes are equal, so callers can
// test against the sentinels above:
//
//	if errors.Is(err, errs.ErrNotFound) { ... }
type Error struct {
	Code    Code   // The error class
	Msg     string // Human readable message
	Root    string // Domain or store root (optional)
	Path    string // Affected path (optional)
	Version int64  // Affected version, -1 if unknown
	Shard   int    // Affected shard, -1 if unknown
	Err     error  // Underlying cause (optional)
}

// New creates a new Error with the given code and message and no location context.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Msg:     fmt.Sprintf(format, args...),
		Version: -1,
		Shard:   -1,
	}
}

// Wrap creates a new Error with the given code that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Err = cause
	return e
}

// WithRoot sets the root context and returns the error for chaining.
func (e *Error) WithRoot(root string) *Error {
	e.Root = root
	return e
}

// WithPath sets the path context and returns the error for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithVersion sets the version context and returns the error for chaining.
func (e *Error) WithVersion(version int64) *Error {
	e.Version = version
	return e
}

// WithShard sets the shard context and returns the error for chaining.
func (e *Error) WithShard(shard int) *Error {
	e.Shard = shard
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code.String())
	sb.WriteString("Error")
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}

	var ctx []string
	if e.Root != "" {
		ctx = append(ctx, "root="+e.Root)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Version >= 0 {
		ctx = append(ctx, fmt.Sprintf("version=%d", e.Version))
	}
	if e.Shard >= 0 {
		ctx = append(ctx, fmt.Sprintf("shard=%d", e.Shard))
	}
	if len(ctx) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(ctx, ", "))
		sb.WriteString(")")
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// AtShard returns a copy of err with shard and path context filled in if err is
// an *Error that does not carry them yet. Other errors are wrapped as EngineIO.
func AtShard(err error, shard int, path string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		c := *e
		if c.Shard < 0 {
			c.Shard = shard
		}
		if c.Path == "" {
			c.Path = path
		}
		return &c
	}
	return Wrap(CodeEngineIO, err, "shard operation failed").WithShard(shard).WithPath(path)
}

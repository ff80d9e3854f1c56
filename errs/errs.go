// Package errs defines the error taxonomy shared by the stores, the sequencing
// coordinator and the gateway. Every error that crosses a package boundary is
// either an *Error or gets classified as InfrastructureUnavailable.
package errs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindInfrastructure Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindConflict:
		return "Conflict"
	case KindValidation:
		return "ValidationFailed"
	}
	return "InfrastructureUnavailable"
}

// Stable machine-readable codes delivered to clients.
const (
	CodeInvalidRoomId      = "INVALID_ROOM_ID"
	CodeForbidden          = "FORBIDDEN_NOT_A_MEMBER"
	CodeJoinFailed         = "JOIN_FAILED"
	CodeEmptyContent       = "EMPTY_CONTENT"
	CodeTooManyFiles       = "TOO_MANY_FILES"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeBlockedMime        = "BLOCKED_MIME"
	CodeInternal           = "INTERNAL_ERROR"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeMemberNotFound     = "MEMBER_NOT_FOUND"
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeDuplicateSequence  = "DUPLICATE_SEQUENCE"
	CodeDuplicateSubmit    = "DUPLICATE_SUBMISSION"
	CodeSubmissionConflict = "SUBMISSION_CONFLICT"
	CodeInvalidSeq         = "INVALID_SEQ"
	CodeInvalidCursor      = "INVALID_CURSOR"
	CodeInvalidFilter      = "INVALID_FILTER"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeRoomFull           = "ROOM_FULL"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
)

// Error is a classified error with a stable code and a human readable message.
type Error struct {
	Kind  Kind
	Code  string
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.cause)
	}
	return e.Code + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

func NotFound(code, msg string) *Error   { return New(KindNotFound, code, msg) }
func Forbidden(code, msg string) *Error  { return New(KindForbidden, code, msg) }
func Conflict(code, msg string) *Error   { return New(KindConflict, code, msg) }
func Validation(code, msg string) *Error { return New(KindValidation, code, msg) }

// Infrastructure wraps a storage or transport failure, keeping the stack of the call site.
func Infrastructure(err error, msg string) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInternal, Msg: msg, cause: errors.WithStack(err)}
}

// Wrap attaches a cause to a classified error without changing its kind or code.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg, cause: cause}
}

// As returns the classified error in the chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err; unclassified errors count as infrastructure failures.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the client facing code for err.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the human readable message for err; infrastructure details are not exposed.
func MessageOf(err error) string {
	if e, ok := As(err); ok && e.Kind != KindInfrastructure {
		return e.Msg
	}
	return "internal error, retry with the same submission id"
}

func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
func IsForbidden(err error) bool  { return err != nil && KindOf(err) == KindForbidden }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }

// Retryable reports whether the caller may retry the same request (with the same submission id).
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindInfrastructure
}

// HTTPStatus maps err to the status of the pull API and the upgrade endpoint.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	}
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

var (
	ErrRoomNotFound    = NotFound(CodeRoomNotFound, "room does not exist or is closed")
	ErrMemberNotFound  = NotFound(CodeMemberNotFound, "membership does not exist")
	ErrMessageNotFound = NotFound(CodeMessageNotFound, "message does not exist")
	ErrUserNotFound    = NotFound(CodeUserNotFound, "user does not exist")
	ErrNotAMember      = Forbidden(CodeForbidden, "not a member of this room")
	ErrDuplicateSeq    = Conflict(CodeDuplicateSequence, "sequence number already used in room")
	ErrDuplicateSubmit = Conflict(CodeDuplicateSubmit, "submission id already used in room")
	ErrInvalidCursor   = Validation(CodeInvalidCursor, "malformed cursor")
	ErrRoomFull        = Validation(CodeRoomFull, "room is at capacity")
)

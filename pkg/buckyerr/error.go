// Package buckyerr defines the closed BuckyErrorCode enumeration shared by
// every component of the core: codec, transport, chunk engine, and cache
// all surface failures through the same (code, message) value shape instead
// of ad hoc error types.
package buckyerr

import "fmt"

// Code is the 16-bit wire value of a BuckyErrorCode, as carried in
// SnPingResp.result and every other protocol response field.
type Code uint16

// The closed enumeration Values are part of the wire protocol:
// never renumber an existing code.
const (
	CodeOK                Code = 0
	CodeIO                Code = 1
	CodeNotFound          Code = 2
	CodeAlreadyExists     Code = 3
	CodeInvalidFormat     Code = 4
	CodeInvalidData       Code = 5
	CodeInvalidParam      Code = 6
	CodeInvalidSignature  Code = 7
	CodeNotMatch          Code = 8
	CodeOutOfLimit        Code = 9
	CodeUnSupport         Code = 10
	CodeTimeout           Code = 11
	CodeInterrupted       Code = 12
	CodeConnectionAborted Code = 13
	CodeNotConnected      Code = 14
	CodePending           Code = 15
	CodeRedirect          Code = 16
	CodeErrorState        Code = 17
	CodePermissionDenied  Code = 18
	CodeInternalError     Code = 19
	CodeFailed            Code = 20
)

var codeNames = map[Code]string{
	CodeOK:                "Ok",
	CodeIO:                "IO",
	CodeNotFound:          "NotFound",
	CodeAlreadyExists:     "AlreadyExists",
	CodeInvalidFormat:     "InvalidFormat",
	CodeInvalidData:       "InvalidData",
	CodeInvalidParam:      "InvalidParam",
	CodeInvalidSignature:  "InvalidSignature",
	CodeNotMatch:          "NotMatch",
	CodeOutOfLimit:        "OutOfLimit",
	CodeUnSupport:         "UnSupport",
	CodeTimeout:           "Timeout",
	CodeInterrupted:       "Interrupted",
	CodeConnectionAborted: "ConnectionAborted",
	CodeNotConnected:      "NotConnected",
	CodePending:           "Pending",
	CodeRedirect:          "Redirect",
	CodeErrorState:        "ErrorState",
	CodePermissionDenied:  "PermissionDenied",
	CodeInternalError:     "InternalError",
	CodeFailed:            "Failed",
}

// String renders the symbolic name used in logs and the HTTP-status mapping.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint16(c))
}

// Error is the (code, message) error value every component returns
type Error struct {
	Code    Code
	Message string

	// RetryAfterCount, when non-zero, is set by the NOC insertion loop
	// when the retry budget is exhausted, so a caller can decide whether
	// to retry instead of treating InternalError as fatal.
	RetryAfterCount int
}

// New creates a new BuckyErrorCode error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new BuckyErrorCode error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match on code alone, e.g. errors.Is(err, buckyerr.New(CodeNotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Retriable classifies chunk-download style failures: Pending,
// Redirect, and NotConnected are reschedule-able; everything else that
// reaches this classification is fatal.
func (c Code) Retriable() bool {
	switch c {
	case CodePending, CodeRedirect, CodeNotConnected:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a code to the status the (external, non-goal) HTTP front
// end would use's table. Kept here because it is the one place the
// core names the mapping the collaborator consumes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return 404
	case CodePermissionDenied:
		return 403
	case CodeAlreadyExists:
		return 409
	case CodePending:
		return 202
	case CodeOK:
		return 200
	default:
		return 500
	}
}

package orders

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindBusinessRule
	KindPersistence
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindPersistence:
		return "persistence"
	case KindExternal:
		return "external"
	}
	return "unknown"
}

// Error carries a stable machine-readable Code. Two Errors match under
// errors.Is when their codes are equal.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

const (
	CodePlaceOrderFailed = "PLACE_ORDER_FAILED"
	CodePersistence      = "PERSISTENCE_FAILURE"
	CodeExternal         = "EXTERNAL_SERVICE_ERROR"
)

var (
	ErrOrderNotFound     = &Error{Kind: KindValidation, Code: "ORDER_NOT_EXISTS", Message: "order does not exist"}
	ErrCourseNotFound    = &Error{Kind: KindValidation, Code: "COURSE_NOT_EXISTS", Message: "course does not exist"}
	ErrInvalidArgument   = &Error{Kind: KindValidation, Code: "INVALID_ARGUMENT", Message: "invalid argument"}
	ErrCourseNotFree     = &Error{Kind: KindBusinessRule, Code: "COURSE_NOT_FREE", Message: "course is not free"}
	ErrCourseUnavailable = &Error{Kind: KindBusinessRule, Code: "COURSE_NOT_PURCHASABLE", Message: "course cannot be purchased"}
	ErrAlreadyFinished   = &Error{Kind: KindBusinessRule, Code: "ORDER_ALREADY_FINISH", Message: "order is already finished"}
	ErrOrderNotDeletable = &Error{Kind: KindBusinessRule, Code: "ORDER_NOT_DELETABLE", Message: "only closed orders can be deleted"}
)

// ErrNoRecord is returned by a Store when a row does not exist.
var ErrNoRecord = errors.New("orders: no record")

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Code: ErrInvalidArgument.Code, Message: msg}
}

func withDetail(base *Error, msg string) error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: msg}
}

func persistence(code, msg string, err error) error {
	return &Error{Kind: KindPersistence, Code: code, Message: msg, Err: err}
}

func external(msg string, err error) error {
	return &Error{Kind: KindExternal, Code: CodeExternal, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindPersistence || k == KindExternal
}

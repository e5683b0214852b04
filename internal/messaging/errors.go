package messaging

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; Error() carries the user-facing cause.
var (
	ErrValidation = errors.New("validation error")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
)

// Error is a domain error of one of the kinds above.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func validationf(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func permissionf(format string, args ...any) error {
	return &Error{kind: ErrPermission, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds an ErrNotFound error; the directory uses it for users and products.
func NotFoundf(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

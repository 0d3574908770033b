package response

import "errors"

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNoRequest        = errors.New("no request associated with the response builder")
	ErrAlreadyFinalized = errors.New("response already finalized")
	ErrInvalidStatus    = errors.New("invalid status code")
	ErrNilResponse      = errors.New("nil response")
	ErrNilWriter        = errors.New("nil response writer")
)

// EmptyError reports an empty required value. It matches ErrInvalidArgument
// with errors.Is.
type EmptyError struct {
	Field string
}

func (e *EmptyError) Error() string {
	return "empty " + e.Field
}

func (e *EmptyError) Unwrap() error {
	return ErrInvalidArgument
}

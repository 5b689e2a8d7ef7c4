package errors

// ErrorCode identifies an error kind. Codes are compared, never messages.
type ErrorCode string

// Error is a coded error carrying an optional cause, message override and
// payload.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
	// Is matches any other Error with the same code, so errors.Is works
	// across wrapping and joined errors.
	Is(target error) bool
}

// Factory creates coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

package dbloader

// ExecError wraps a driver error so that callers can unwrap it and
// inspect driver specific details such as constraint violation codes.
type ExecError struct {
	text  string
	cause error
}

func NewExecError(cause error, msg string) *ExecError {
	return &ExecError{
		text:  msg + " Error: " + cause.Error(),
		cause: cause,
	}
}

func (e *ExecError) Error() string {
	return e.text
}

func (e *ExecError) Unwrap() error {
	return e.cause
}

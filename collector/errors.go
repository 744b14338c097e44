package collector

import "errors"

// AuthError represents a 401/403 from the provider. Fatal for the key,
// never retried.
type AuthError struct {
	text   string
	status int
}

func NewAuthError(errorMsg string, httpStatusCode int) AuthError {
	return AuthError{
		text:   errorMsg,
		status: httpStatusCode,
	}
}

// Error returns the message body associated with the AuthError instance.
func (e AuthError) Error() string {
	return e.text
}

// StatusCode returns the status code associated with the AuthError instance.
func (e AuthError) StatusCode() int {
	return e.status
}

// RateLimitError represents a 429 from the provider. Retryable with
// exponential backoff.
type RateLimitError struct {
	text   string
	status int
}

func NewRateLimitError(errorMsg string, httpStatusCode int) RateLimitError {
	return RateLimitError{
		text:   errorMsg,
		status: httpStatusCode,
	}
}

// Error returns the message body associated with the RateLimitError instance.
func (e RateLimitError) Error() string {
	return e.text
}

// StatusCode returns the status code associated with the RateLimitError instance.
func (e RateLimitError) StatusCode() int {
	return e.status
}

// ServerError represents a 5xx response or a transport level failure
// such as a timeout. Retryable with backoff.
type ServerError struct {
	text   string
	status int
}

func NewServerError(errorMsg string, httpStatusCode int) ServerError {
	return ServerError{
		text:   errorMsg,
		status: httpStatusCode,
	}
}

// Error returns the message body associated with the ServerError instance.
func (e ServerError) Error() string {
	return e.text
}

// StatusCode returns the status code associated with the ServerError instance.
func (e ServerError) StatusCode() int {
	return e.status
}

// ValidationError represents a response that arrived but failed the
// endpoint schema test or carried a provider sentinel key. Not retried.
type ValidationError struct {
	text string
}

func NewValidationError(errorMsg string) ValidationError {
	return ValidationError{text: errorMsg}
}

// Error returns the message body associated with the ValidationError instance.
func (e ValidationError) Error() string {
	return e.text
}

func NewCollectorError(e error, msg string) error {
	switch etype := e.(type) {
	case AuthError:
		return NewAuthError(msg, etype.StatusCode())
	case RateLimitError:
		return NewRateLimitError(msg, etype.StatusCode())
	case ServerError:
		return NewServerError(msg, etype.StatusCode())
	case ValidationError:
		return NewValidationError(msg)
	default:
		return errors.New(msg + " Error: " + e.Error())
	}
}

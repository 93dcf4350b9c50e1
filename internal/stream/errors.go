package stream

import "fmt"

// ValidationError reports a request that can never succeed as given: bad
// credentials, unknown symbols, an invalid expiry or a token set larger than
// the connection budget. Nothing has been started when it is returned.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

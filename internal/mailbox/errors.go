package mailbox

import (
	"errors"
	"fmt"
)

// ConnectionError reports that a mailbox session could not be established
// or broke down. Auth is set when the server rejected the credentials.
type ConnectionError struct {
	Addr string
	Auth bool
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Auth {
		return fmt.Sprintf("authentication failed for %s: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsAuthError reports whether err is a ConnectionError caused by rejected
// credentials.
func IsAuthError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Auth
}

// ParseError reports a malformed message. The message is skipped.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing message: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err (or any error in its chain) is a
// ParseError.
func IsParseError(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}

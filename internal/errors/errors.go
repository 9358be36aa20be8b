package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// RaftError is an error with a human readable message that wraps an
// underlying cause. The cause carries a stack trace captured at wrap time.
type RaftError struct {
	Inner   error
	Message string
}

func New(text string) *RaftError {
	return &RaftError{Message: text}
}

// WrapError wraps inner with a formatted message. The inner error's stack is
// recorded so that it can be printed with %+v.
func WrapError(inner error, messagef string, messageArgs ...interface{}) *RaftError {
	return &RaftError{
		Inner:   errors.WithStack(inner),
		Message: fmt.Sprintf(messagef, messageArgs...),
	}
}

func (e *RaftError) Unwrap() error {
	return e.Inner
}

func (e *RaftError) Error() string {
	if e.Inner == nil {
		return e.Message
	}
	return e.Message + ": " + errors.Cause(e.Inner).Error()
}

// Format prints the stack of the wrapped error when formatted with %+v.
func (e *RaftError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.Inner != nil {
			fmt.Fprintf(s, "%s: %+v", e.Message, e.Inner)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

package parser

import (
	"errors"
	"fmt"
)

var (
	ErrParse         = errors.New("parse error")
	ErrMissingField  = errors.New("missing field")
	ErrParseInt      = errors.New("invalid number")
	ErrInvalidStatus = errors.New("invalid status line")
	ErrIllegalStatus = errors.New("illegal thread status")
	ErrUnknownFrame  = errors.New("unknown frame")
)

// LineError ties a grammar failure to the text that caused it.
type LineError struct {
	Kind error
	Line string
	Msg  string
}

func (e *LineError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%v: %s: %q", e.Kind, e.Msg, e.Line)
	}
	return fmt.Sprintf("%v: %q", e.Kind, e.Line)
}

func (e *LineError) Unwrap() error { return e.Kind }

func lineErr(kind error, line, msg string) error {
	return &LineError{Kind: kind, Line: line, Msg: msg}
}

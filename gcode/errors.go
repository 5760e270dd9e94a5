package gcode

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedBlock is returned for text that cannot be parsed.
	ErrMalformedBlock = errors.New("malformed block")

	// ErrInvalidModalCombination is returned for blocks with conflicting codes.
	ErrInvalidModalCombination = errors.New("invalid modal combination")

	// ErrUnsupportedCode is returned for G and M codes the controller
	// does not implement. It is also an ErrMalformedBlock.
	ErrUnsupportedCode = fmt.Errorf("%w: unsupported code", ErrMalformedBlock)
)

// BlockError describes a block that was rejected.
type BlockError struct {
	Err    error
	Line   int
	Source string
	Reason string
}

func (e *BlockError) Error() string {
	msg := e.Err.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, msg, e.Source)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %q", msg, e.Source)
	}
	return msg
}

func (e *BlockError) Unwrap() error { return e.Err }

func (b Block) errorf(err error, format string, args ...interface{}) *BlockError {
	src := b.Source
	if src == "" {
		src = b.String()
	}
	return &BlockError{
		Err:    err,
		Line:   b.Line,
		Source: src,
		Reason: fmt.Sprintf(format, args...),
	}
}
